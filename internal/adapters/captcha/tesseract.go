//go:build !notesseract

package captcha

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

// Tesseract runs the local tesseract engine through gosseract. One client is
// reused for every call; calls are serialized.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
	closed bool
}

func NewTesseract(language string) (*Tesseract, error) {
	client := gosseract.NewClient()
	if language == "" {
		language = "eng"
	}
	if err := client.SetLanguage(language); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract language %s: %w", language, err)
	}
	if err := client.SetWhitelist(CharsetAlphanumeric); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract whitelist: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		client.Close()
		return nil, fmt.Errorf("tesseract page mode: %w", err)
	}
	return &Tesseract{client: client}, nil
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]model.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("tesseract encode: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrEngineClosed
	}

	if err := t.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("tesseract set image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract recognize: %w", err)
	}

	var (
		out    []model.Recognition
		joined strings.Builder
		total  float64
	)
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		conf := box.Confidence / 100
		out = append(out, model.Recognition{Text: word, Confidence: conf})
		joined.WriteString(word)
		total += conf
	}
	// A code split into several words is also offered as one reading.
	if len(out) > 1 {
		out = append(out, model.Recognition{Text: joined.String(), Confidence: total / float64(len(out))})
	}
	return out, nil
}

func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.client.Close()
}
