package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	contractx "github.com/tanpawarit/despensero/agent/contract"
)

var _ Transcoder = (*FFmpeg)(nil)

// FFmpeg shells out to the ffmpeg binary found on PATH.
type FFmpeg struct {
	binary     string
	sampleRate int
}

func NewFFmpeg(binary string) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: strings.TrimSpace(binary), sampleRate: 16000}
}

// Available reports whether the binary resolves on PATH.
func (f *FFmpeg) Available() bool {
	_, err := exec.LookPath(f.binary)
	return err == nil
}

func (f *FFmpeg) ToWAV(ctx context.Context, src string) (string, error) {
	bin, err := exec.LookPath(f.binary)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contractx.ErrTranscoderUnavailable, err)
	}

	out, err := os.CreateTemp("", "despensero-*.wav")
	if err != nil {
		return "", fmt.Errorf("create transcode target: %w", err)
	}
	dst := out.Name()
	_ = out.Close()

	cmd := exec.CommandContext(ctx, bin,
		"-y", "-loglevel", "error",
		"-i", src,
		"-ac", "1",
		"-ar", fmt.Sprint(f.sampleRate),
		"-f", "wav",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("ffmpeg transcode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return dst, nil
}
