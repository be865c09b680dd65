package transcribe

import (
	"fmt"
	"strings"

	"github.com/convoscope/convoscope/pkg/media"
)

const (
	maxFileSizeBytes = 500 << 20 // 500 MB
	minDurationSec   = 1.0
	maxDurationSec   = 7200.0
)

// supportedFormats are the container format names the ASR service accepts.
// ffprobe reports some containers as a comma-separated alias list; any
// matching token qualifies.
var supportedFormats = map[string]bool{
	"wav":  true,
	"mp3":  true,
	"m4a":  true,
	"mp4":  true,
	"mov":  true,
	"flac": true,
	"ogg":  true,
	"webm": true,
	"3gp":  true,
}

// ValidateMedia checks a probed media file against the ASR service's input
// constraints. Violations are permanent failures: retrying the same file
// can never succeed.
func ValidateMedia(info *media.Info, path string) error {
	if info.SizeBytes == 0 {
		return fmt.Errorf("media file %s is empty", path)
	}
	if info.SizeBytes > maxFileSizeBytes {
		return fmt.Errorf("media file %s is %d bytes, exceeds the %d byte limit",
			path, info.SizeBytes, int64(maxFileSizeBytes))
	}
	if !info.HasAudio {
		return fmt.Errorf("media file %s has no audio stream", path)
	}
	if !formatSupported(info.FormatName) {
		return fmt.Errorf("media file %s has unsupported format %q", path, info.FormatName)
	}
	if info.DurationSec < minDurationSec {
		return fmt.Errorf("media file %s is %.2fs, below the %.0fs minimum",
			path, info.DurationSec, minDurationSec)
	}
	if info.DurationSec > maxDurationSec {
		return fmt.Errorf("media file %s is %.0fs, above the %.0fs maximum",
			path, info.DurationSec, maxDurationSec)
	}
	return nil
}

// formatSupported reports whether any token of ffprobe's comma-separated
// format name is in the supported set.
func formatSupported(formatName string) bool {
	for _, name := range strings.Split(strings.ToLower(formatName), ",") {
		if supportedFormats[strings.TrimSpace(name)] {
			return true
		}
	}
	return false
}
