package store

import "time"

// StageStatus is the lifecycle status of one pipeline stage on a recording.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in_progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

// IsValid reports whether s is a recognised stage status.
func (s StageStatus) IsValid() bool {
	switch s {
	case StagePending, StageInProgress, StageCompleted, StageFailed, StageSkipped:
		return true
	}
	return false
}

// Stage identifies one phase of a recording's lifecycle.
type Stage string

const (
	StageDownload      Stage = "download"
	StageTranscription Stage = "transcription"
	StageUpload        Stage = "upload"
)

// IsValid reports whether st is a recognised stage name.
func (st Stage) IsValid() bool {
	switch st {
	case StageDownload, StageTranscription, StageUpload:
		return true
	}
	return false
}

// column returns the status column prefix for the stage. Callers must have
// validated the stage; the value is interpolated into SQL identifiers.
func (st Stage) column() string { return string(st) + "_status" }

// Direction classifies a call's direction relative to the estate.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionInternal Direction = "internal"
)

// Party is one side of a call.
type Party struct {
	Number    string
	Name      string
	Extension string
}

// StageState is the per-stage progress snapshot on a recording.
type StageState struct {
	Status      StageStatus
	Attempts    int
	CompletedAt *time.Time
	LastError   string
}

// Recording represents one audio call moving through the pipeline.
type Recording struct {
	RecordingID   string
	CallID        string
	SessionID     string
	StartTime     time.Time
	Duration      int // seconds
	Direction     Direction
	From          Party
	To            Party
	RecordingType string // automatic | on_demand
	MediaURI      string // provider content/media URI for the download stage
	MediaKind     string // audio | video

	Download      StageState
	Transcription StageState
	Upload        StageState

	LocalPath     string
	ArchiveFileID string
	WordCount     int
	Confidence    float32
	Language      string

	AudioDeleted   bool
	AudioDeletedAt *time.Time

	RetryCount  int
	WorkerID    string
	CreatedAt   time.Time
	LastUpdated time.Time
}

// MeetingSource identifies the provider a meeting was ingested from.
type MeetingSource string

const (
	SourceTelephony      MeetingSource = "telephony"
	SourceTelephonyVideo MeetingSource = "telephony-video"
	SourceNotetaker      MeetingSource = "notetaker"
)

// Participant is one attendee of a video meeting, enriched from the
// extension directory when possible.
type Participant struct {
	Name        string  `json:"name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Company     string  `json:"company,omitempty"`
	Department  string  `json:"department,omitempty"`
	Title       string  `json:"title,omitempty"`
	ExtensionID string  `json:"extension_id,omitempty"`
	Internal    bool    `json:"internal"`
	Host        bool    `json:"host"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// Meeting represents one video meeting.
type Meeting struct {
	ID            int64
	RecordingID   string
	Source        MeetingSource
	ContentHash   string
	Title         string
	MeetingType   string
	Platform      string
	HostName      string
	HostEmail     string
	HostExtension string
	HostPhone     string
	StartTime     time.Time
	EndTime       *time.Time

	Duration         int
	ParticipantCount int
	Participants     []Participant
	ActionItems      []string
	CRMDeals         []string
	RawPayload       []byte
	HasRecording     bool

	TranscriptText    string
	TranscriptMissing bool
	SummaryText       string

	LayerComplete [6]bool

	CreatedAt   time.Time
	LastUpdated time.Time
}

// Batch is a declarative unit of historical work with a resume cursor.
type Batch struct {
	BatchID        string
	StartDate      time.Time
	EndDate        time.Time
	CursorDate     time.Time
	TotalProcessed int
	TotalFailed    int
	ErrorCount     int
	LastError      string
	Completed      bool
	IsActive       bool
	LastCheckpoint time.Time
	CreatedAt      time.Time
}

// FailedItem records a recording that exhausted its retry budget.
type FailedItem struct {
	RecordingID    string
	FailureReason  string
	LastError      string
	AttemptCount   int
	FirstAttempted time.Time
	LastAttempted  time.Time
}

// Segment is one timed span of a transcript.
type Segment struct {
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Text             string  `json:"text"`
	AvgLogProb       float64 `json:"avg_logprob"`
	CompressionRatio float64 `json:"compression_ratio"`
	NoSpeechProb     float64 `json:"no_speech_prob"`
}

// Transcript is the persisted full transcript for one recording.
type Transcript struct {
	RecordingID     string
	Text            string
	Language        string
	LanguageProb    float32
	Segments        []Segment
	Confidence      float32
	WordCount       int
	ParticipantName string
	CustomerName    string
	Duration        float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InsightRow is one analysis layer's persisted output for a meeting.
type InsightRow struct {
	MeetingID int64
	Layer     int
	Score     float32
	Label     string
	Summary   string
	Details   []byte // JSON blob with the full structured output
	Model     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PendingItem is the minimal view of a recording awaiting a stage.
type PendingItem struct {
	RecordingID string
	RetryCount  int
	LastUpdated time.Time
}

// Summary aggregates pipeline counts for status reporting.
type Summary struct {
	TotalRecordings int
	PendingByStage  map[Stage]int
	FailedByStage   map[Stage]int
	FailedItems     int
	ActiveBatches   int
}

// EmployeeCredential is a per-employee notetaker API key, encrypted at rest.
type EmployeeCredential struct {
	EmployeeID            string
	Email                 string
	EncryptedAPIKey       []byte
	LastSyncedRecordingID string
	Active                bool
	UpdatedAt             time.Time
}
