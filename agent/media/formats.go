package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	contractx "github.com/tanpawarit/despensero/agent/contract"
	metricsx "github.com/tanpawarit/despensero/pkg/metrics"
)

type Kind string

const (
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

var (
	audioExtensions = map[string]struct{}{
		".wav": {}, ".mp3": {}, ".m4a": {}, ".ogg": {}, ".oga": {},
		".opus": {}, ".flac": {}, ".aac": {}, ".webm": {},
	}
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {},
	}

	// Containers that sniff outside the audio/ family but carry voice notes.
	audioContainers = map[string]struct{}{
		"application/ogg": {},
		"video/webm":      {},
		"video/mp4":       {},
	}
	imageTypes = map[string]struct{}{
		"image/jpeg": {},
		"image/png":  {},
		"image/gif":  {},
		"image/webp": {},
	}
)

func IsAudioPath(path string) bool {
	_, ok := audioExtensions[ext(path)]
	return ok
}

func IsImagePath(path string) bool {
	_, ok := imageExtensions[ext(path)]
	return ok
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(path)))
}

// validate runs every local check in order and returns the sniffed MIME type.
// Nothing here talks to the network.
func validate(kind Kind, path string, maxBytes int64) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", reject("not_found", fmt.Errorf("%w: empty media path", contractx.ErrMediaNotFound))
	}

	allowed := audioExtensions
	if kind == KindImage {
		allowed = imageExtensions
	}
	if _, ok := allowed[ext(path)]; !ok {
		return "", reject("unsupported_format", fmt.Errorf("%w: %s extension %q", contractx.ErrUnsupportedFormat, kind, ext(path)))
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", reject("not_found", fmt.Errorf("%w: %s", contractx.ErrMediaNotFound, filepath.Base(path)))
	}
	if info.Size() == 0 {
		return "", reject("not_found", fmt.Errorf("%w: %s is empty", contractx.ErrMediaNotFound, filepath.Base(path)))
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return "", reject("too_large", fmt.Errorf("%w: %d bytes > %d", contractx.ErrTooLarge, info.Size(), maxBytes))
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", reject("not_found", fmt.Errorf("%w: sniff %s: %v", contractx.ErrMediaNotFound, filepath.Base(path), err))
	}
	if !sniffAllowed(kind, mt) {
		return "", reject("unsupported_format", fmt.Errorf("%w: content is %s", contractx.ErrUnsupportedFormat, mt.String()))
	}
	return mt.String(), nil
}

func sniffAllowed(kind Kind, mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		name := m.String()
		switch kind {
		case KindAudio:
			if strings.HasPrefix(name, "audio/") {
				return true
			}
			if _, ok := audioContainers[name]; ok {
				return true
			}
		case KindImage:
			if _, ok := imageTypes[name]; ok {
				return true
			}
		}
	}
	return false
}

func reject(reason string, err error) error {
	metricsx.MediaRejections.WithLabelValues(reason).Inc()
	return err
}
