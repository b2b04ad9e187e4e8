package solver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/giftcode"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

// Dumper writes challenge images for offline inspection. A zero Dumper or an
// empty directory disables it.
type Dumper struct {
	dir string
}

func NewDumper(dir string) *Dumper {
	return &Dumper{dir: strings.TrimSpace(dir)}
}

// Save writes <fid>_a<attempt>_<guess>.<ext> and returns its path.
func (d *Dumper) Save(fid string, attempt int, guess string, challenge giftcode.Captcha) (string, error) {
	if d == nil || d.dir == "" || len(challenge.Image) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", err
	}
	ext := challenge.Format
	if ext == "" {
		ext = "png"
	}
	name := fmt.Sprintf("%s_a%d_%s.%s", utils.SanitizeFileName(fid), attempt, utils.SanitizeFileName(guess), ext)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, challenge.Image, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
