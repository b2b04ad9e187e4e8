package solver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/captcha"
	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/giftcode"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

var (
	ErrNoCandidate = errors.New("no captcha candidate")
	ErrRateLimited = errors.New("captcha rate limited")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// CaptchaSource hands out fresh challenges for an account.
type CaptchaSource interface {
	FetchCaptcha(ctx context.Context, fid string) (giftcode.Captcha, error)
}

type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) ([]model.Recognition, error)
}

type Options struct {
	Attempts       int
	MinConfidence  float64
	DelayMin       time.Duration
	DelayMax       time.Duration
	DiagnosticsDir string
	SaveAll        bool
}

// Result is the winning guess for one challenge. Unrecognized counts the
// challenges fetched before it that produced no usable candidate.
type Result struct {
	Text         string
	Confidence   float64
	Method       string
	Attempt      int
	Unrecognized int
	Candidates   []model.CaptchaCandidate
	Image        []byte
	Format       string
}

// Failure describes a solve that ended without a candidate. Missed counts
// the fetched challenges that could not be read.
type Failure struct {
	Attempts int
	Missed   int
	Err      error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("after %d challenge(s): %v", f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

type Solver struct {
	source     CaptchaSource
	recognizer Recognizer
	opts       Options
	dumper     *Dumper
	log        *logger.ClassLogger
	sleep      func(ctx context.Context, d time.Duration) error
}

func New(source CaptchaSource, recognizer Recognizer, opts Options) *Solver {
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	s := &Solver{
		source:     source,
		recognizer: recognizer,
		opts:       opts,
		dumper:     NewDumper(opts.DiagnosticsDir),
		sleep:      utils.Sleep,
	}
	s.log = logger.NewLogger(s, nil)
	return s
}

// Solve fetches challenges for the account in session until one yields a
// candidate or the attempt budget is spent. Progress is reported on the
// account's status line.
func (s *Solver) Solve(ctx context.Context, session *model.Session) (Result, error) {
	log := s.log.WithSession(session).WithSleeper(s.sleep)
	fid := session.AccountID

	unrecognized := 0
	for attempt := 1; attempt <= s.opts.Attempts; attempt++ {
		if attempt > 1 {
			delay := utils.RandomDuration(s.opts.DelayMin, s.opts.DelayMax)
			if err := log.Wait(ctx, "Fetching a new captcha", delay); err != nil {
				return Result{}, err
			}
		}

		log.Log(fmt.Sprintf("Fetching captcha (attempt %d/%d)", attempt, s.opts.Attempts))
		challenge, err := s.source.FetchCaptcha(ctx, fid)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if errors.Is(err, giftcode.ErrCaptchaRateLimited) {
				err = fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return Result{}, &Failure{Attempts: attempt, Missed: unrecognized, Err: err}
		}

		candidates, guess, err := s.readChallenge(ctx, log, challenge)
		if err != nil {
			return Result{}, err
		}

		if len(candidates) == 0 {
			unrecognized++
			log.Log(fmt.Sprintf("Captcha not recognized (best raw guess %q)", guess))
			s.dump(log, fid, attempt, guess, challenge)
			continue
		}

		best := candidates[0]
		log.Log(fmt.Sprintf("Captcha read as %s (%.2f via %s, %d vote(s))", best.Text, best.Confidence, best.Method, best.Votes))
		if s.opts.SaveAll {
			s.dump(log, fid, attempt, best.Text, challenge)
		}
		return Result{
			Text:         best.Text,
			Confidence:   best.Confidence,
			Method:       best.Method,
			Attempt:      attempt,
			Unrecognized: unrecognized,
			Candidates:   candidates,
			Image:        challenge.Image,
			Format:       challenge.Format,
		}, nil
	}
	return Result{}, &Failure{Attempts: s.opts.Attempts, Missed: unrecognized, Err: ErrNoCandidate}
}

// Reject records a guess the server refused.
func (s *Solver) Reject(session *model.Session, res Result) {
	log := s.log.WithSession(session)
	log.JustLog(fmt.Sprintf("Captcha %s rejected by the server", res.Text))
	s.dump(log, session.AccountID, res.Attempt, res.Text, giftcode.Captcha{Image: res.Image, Format: res.Format})
}

// readChallenge returns the ranked candidates and the best raw reading for
// diagnostics. Images that fail to decode yield no candidates.
func (s *Solver) readChallenge(ctx context.Context, log *logger.ClassLogger, challenge giftcode.Captcha) ([]model.CaptchaCandidate, string, error) {
	img, err := imaging.Decode(bytes.NewReader(challenge.Image))
	if err != nil {
		log.JustLog(fmt.Sprintf("Could not decode %s captcha: %v", challenge.Format, err))
		return nil, "", nil
	}

	variants, err := Preprocess(ctx, img)
	if err != nil {
		return nil, "", err
	}

	readings := make([][]model.Recognition, len(variants))
	for i, v := range variants {
		recs, err := s.recognizer.Recognize(ctx, v.Image)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			if captcha.IsTransient(err) {
				log.JustLog(fmt.Sprintf("OCR busy on %s: %v", v.Method, err))
				continue
			}
			return nil, "", fmt.Errorf("ocr %s: %w", v.Method, err)
		}
		readings[i] = recs
	}

	candidates, guess := Rank(variants, readings, s.opts.MinConfidence)
	return candidates, guess, nil
}

func (s *Solver) dump(log *logger.ClassLogger, fid string, attempt int, guess string, challenge giftcode.Captcha) {
	path, err := s.dumper.Save(fid, attempt, guess, challenge)
	if err != nil {
		log.JustLog(fmt.Sprintf("Could not save captcha image: %v", err))
		return
	}
	if path != "" {
		log.JustLog(fmt.Sprintf("Captcha image saved to %s", path))
	}
}

// Rank filters and orders readings. readings[i] belongs to variants[i]. The
// second return value is the highest-confidence reading before filtering.
func Rank(variants []Variant, readings [][]model.Recognition, minConfidence float64) ([]model.CaptchaCandidate, string) {
	var (
		candidates []model.CaptchaCandidate
		guess      string
		guessConf  = -1.0
	)
	votes := make(map[string]map[int]bool)

	for i, recs := range readings {
		for _, r := range recs {
			text := Normalize(r.Text)
			if text != "" && r.Confidence > guessConf {
				guess, guessConf = text, r.Confidence
			}
			if r.Confidence < minConfidence || !codePattern.MatchString(text) {
				continue
			}
			if votes[text] == nil {
				votes[text] = make(map[int]bool)
			}
			votes[text][i] = true
			candidates = append(candidates, model.CaptchaCandidate{
				Text:       text,
				Confidence: r.Confidence,
				Method:     variants[i].Method,
				Order:      variants[i].Order,
			})
		}
	}

	for i := range candidates {
		candidates[i].Votes = len(votes[candidates[i].Text])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Votes != b.Votes {
			return a.Votes > b.Votes
		}
		return a.Order < b.Order
	})
	return candidates, guess
}

// Normalize uppercases text and drops all whitespace.
func Normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, text)
}
