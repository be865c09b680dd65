package telephony

import "time"

// Contact identifies one side of a call as reported by the call log.
type Contact struct {
	PhoneNumber string `json:"phoneNumber"`
	Name        string `json:"name"`
	ExtensionID string `json:"extensionId"`
}

// RecordingRef is the call log's pointer to an attached recording.
type RecordingRef struct {
	ID         string `json:"id"`
	ContentURI string `json:"contentUri"`
	Type       string `json:"type"` // Automatic | OnDemand
}

// CallLogRecord is one entry from the detailed call log.
type CallLogRecord struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	StartTime time.Time     `json:"startTime"`
	Duration  int           `json:"duration"` // seconds
	Direction string        `json:"direction"`
	Type      string        `json:"type"`
	From      Contact       `json:"from"`
	To        Contact       `json:"to"`
	Recording *RecordingRef `json:"recording,omitempty"`
}

// CallLogPage is one page of call-log results.
type CallLogPage struct {
	Records    []CallLogRecord `json:"records"`
	Navigation struct {
		NextPage *struct {
			URI string `json:"uri"`
		} `json:"nextPage,omitempty"`
	} `json:"navigation"`
	Paging struct {
		Page       int `json:"page"`
		TotalPages int `json:"totalPages"`
	} `json:"paging"`
}

// HasNextPage reports whether another call-log page follows this one.
func (p *CallLogPage) HasNextPage() bool {
	return p.Navigation.NextPage != nil && p.Navigation.NextPage.URI != ""
}

// MeetingParticipant is one attendee row of a video meeting.
type MeetingParticipant struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	ExtensionID string `json:"extensionId"`
	Host        bool   `json:"host"`
	JoinTime    int64  `json:"joinTime,omitempty"`  // Unix ms
	LeaveTime   int64  `json:"leaveTime,omitempty"` // Unix ms
}

// VideoMeeting is one entry from the video meeting history.
type VideoMeeting struct {
	ID           string               `json:"id"`
	ShortID      string               `json:"shortId"`
	DisplayName  string               `json:"displayName"`
	StartTime    int64                `json:"startTime"` // Unix ms
	EndTime      int64                `json:"endTime"`   // Unix ms
	Participants []MeetingParticipant `json:"participants"`
	Recordings   []RecordingRef       `json:"recordings"`
}

// MeetingsPage is one page of video meeting history.
type MeetingsPage struct {
	Meetings []VideoMeeting `json:"meetings"`
	Paging   struct {
		PageToken string `json:"pageToken"`
	} `json:"paging"`
}

// VideoRecording is the full record of one video recording with its media
// access URIs.
type VideoRecording struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meetingId"`
	DisplayName string `json:"displayName"`
	StartTime   int64  `json:"startTime"` // Unix ms
	Duration    int    `json:"duration"`  // seconds
	DownloadURI string `json:"downloadUri"`
	MediaLink   string `json:"mediaLink"`
	HostInfo    struct {
		DisplayName string `json:"displayName"`
		ExtensionID string `json:"extensionId"`
	} `json:"hostInfo"`
}

// RecordingsPage is one page of account-level video recordings, used when
// meeting history is unavailable.
type RecordingsPage struct {
	Recordings []VideoRecording `json:"recordings"`
	Paging     struct {
		PageToken string `json:"pageToken"`
	} `json:"paging"`
}

// ExtensionContact is the directory contact block of an extension.
type ExtensionContact struct {
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	Email         string `json:"email"`
	BusinessPhone string `json:"businessPhone"`
	Company       string `json:"company"`
	Department    string `json:"department"`
	JobTitle      string `json:"jobTitle"`
}

// Extension is one entry of the extension directory.
type Extension struct {
	ID              string           `json:"id"`
	ExtensionNumber string           `json:"extensionNumber"`
	Name            string           `json:"name"`
	Contact         ExtensionContact `json:"contact"`
}

// ExtensionsPage is one page of the extension directory.
type ExtensionsPage struct {
	Records    []Extension `json:"records"`
	Navigation struct {
		NextPage *struct {
			URI string `json:"uri"`
		} `json:"nextPage,omitempty"`
	} `json:"navigation"`
	Paging struct {
		Page       int `json:"page"`
		TotalPages int `json:"totalPages"`
	} `json:"paging"`
}

// HasNextPage reports whether another directory page follows this one.
func (p *ExtensionsPage) HasNextPage() bool {
	return p.Navigation.NextPage != nil && p.Navigation.NextPage.URI != ""
}
