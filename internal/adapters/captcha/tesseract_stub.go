//go:build notesseract

package captcha

import (
	"context"
	"errors"
	"image"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

var errNoTesseract = errors.New("built without tesseract support (notesseract tag)")

type Tesseract struct{}

func NewTesseract(language string) (*Tesseract, error) {
	return nil, errNoTesseract
}

func (t *Tesseract) Recognize(ctx context.Context, img image.Image) ([]model.Recognition, error) {
	return nil, errNoTesseract
}

func (t *Tesseract) Close() error { return nil }
