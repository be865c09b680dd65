// Package media wraps the ffmpeg and ffprobe binaries for the audio
// handling the pipeline needs: probing container metadata, extracting a
// mono audio track from video, and slicing long recordings into chunks.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Info describes a probed media file.
type Info struct {
	// DurationSec is the container duration in seconds.
	DurationSec float64

	// FormatName is ffprobe's format name, e.g. "mp3" or "mov,mp4,m4a,3gp,3g2,mj2".
	FormatName string

	// HasAudio reports whether at least one audio stream is present.
	HasAudio bool

	// HasVideo reports whether at least one video stream is present.
	HasVideo bool

	// SizeBytes is the file size on disk.
	SizeBytes int64
}

// Tool runs ffmpeg/ffprobe as subprocesses.
type Tool struct {
	ffmpegPath  string
	ffprobePath string
}

// Option is a functional option for Tool.
type Option func(*Tool)

// WithBinaries overrides the ffmpeg and ffprobe binary paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(t *Tool) {
		t.ffmpegPath = ffmpeg
		t.ffprobePath = ffprobe
	}
}

// New returns a Tool using the ffmpeg/ffprobe binaries from PATH unless
// overridden.
func New(opts ...Option) *Tool {
	t := &Tool{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
	for _, o := range opts {
		o(t)
	}
	return t
}

// probeOutput mirrors the subset of ffprobe's JSON output we read.
type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Probe inspects path and returns its media metadata.
func (t *Tool) Probe(ctx context.Context, path string) (*Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("media: stat %s: %w", path, err)
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("media: ffprobe %s: %w: %s", path, err, stderr.String())
	}

	var po probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &po); err != nil {
		return nil, fmt.Errorf("media: parse ffprobe output: %w", err)
	}

	info := &Info{
		FormatName: po.Format.FormatName,
		SizeBytes:  st.Size(),
	}
	if po.Format.Duration != "" {
		d, err := strconv.ParseFloat(po.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("media: parse duration %q: %w", po.Format.Duration, err)
		}
		info.DurationSec = d
	}
	for _, s := range po.Streams {
		switch s.CodecType {
		case "audio":
			info.HasAudio = true
		case "video":
			info.HasVideo = true
		}
	}
	return info, nil
}

// ExtractAudio writes the audio track of in to out as 16 kHz mono PCM WAV,
// the input format the ASR service handles best. Overwrites out if present.
func (t *Tool) ExtractAudio(ctx context.Context, in, out string) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("media: create output dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-y",
		"-i", in,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: extract audio from %s: %w: %s", in, err, tail(stderr.String()))
	}
	return nil
}

// Slice copies the span [startSec, startSec+durationSec) of in to out
// without re-encoding. Used to split long recordings into overlap chunks.
func (t *Tool) Slice(ctx context.Context, in, out string, startSec, durationSec float64) error {
	if durationSec <= 0 {
		return errors.New("media: slice duration must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("media: create output dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-y",
		"-ss", strconv.FormatFloat(startSec, 'f', 3, 64),
		"-t", strconv.FormatFloat(durationSec, 'f', 3, 64),
		"-i", in,
		"-c", "copy",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: slice %s [%.1fs+%.1fs]: %w: %s",
			in, startSec, durationSec, err, tail(stderr.String()))
	}
	return nil
}

// tail keeps error output readable by trimming ffmpeg's banner-heavy stderr
// to its last 512 bytes.
func tail(s string) string {
	if len(s) <= 512 {
		return s
	}
	return "..." + s[len(s)-512:]
}
