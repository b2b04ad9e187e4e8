package captcha

import (
	"context"
	"fmt"
	"image"

	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]model.Recognition, error)
	Close() error
}

// New builds the OCR engine selected in cfg.
func New(cfg config.Config) (Engine, error) {
	switch cfg.OCREngine {
	case config.OCREngineTesseract, "":
		return NewTesseract(cfg.OCRLanguage)
	case config.OCREngineRemote:
		return NewRemote(cfg.OCREndpoint, cfg.OCRDevice, cfg.Policy.HTTPTimeout())
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, cfg.OCREngine)
	}
}
