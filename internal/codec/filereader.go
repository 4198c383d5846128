package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/sttcore/streamcore/internal/batch"
)

// FileReader decodes an on-disk upload to PCM16 in one synchronous ffmpeg
// invocation, for C9's batch job runner. It is the whole-file counterpart to
// Pipeline's streamed Start/Write/Chunks: a batch upload is already
// completely on disk, so there is no stdin-pump/chunk-interval concern, just
// "run ffmpeg, read stdout."
type FileReader struct {
	cfg     Config
	timeout time.Duration
}

// NewFileReader creates a FileReader bound to cfg's ffmpeg path and target
// output format.
func NewFileReader(cfg Config, timeout time.Duration) *FileReader {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &FileReader{cfg: cfg.withDefaults(), timeout: timeout}
}

// ReadPCM decodes path to PCM16 at the FileReader's configured target
// sample rate/channels, satisfying batch.FileReader.
func (f *FileReader) ReadPCM(path string) ([]byte, int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	args := []string{
		"-loglevel", "warning",
		"-i", path,
		"-ar", fmt.Sprintf("%d", f.cfg.TargetSampleRate),
		"-ac", fmt.Sprintf("%d", f.cfg.TargetChannels),
		"-f", "s16le",
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, f.cfg.FFmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, 0, 0, fmt.Errorf("codec: decode %s: %w: %s", path, err, stderr.String())
	}
	return stdout.Bytes(), f.cfg.TargetSampleRate, f.cfg.TargetChannels, nil
}

var _ batch.FileReader = (*FileReader)(nil)
