package app

import (
	"fmt"

	"github.com/ohmynofan/wos-giftcode-bot/internal/app/scheduler"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/worker"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/ui"
)

// FatalError aborts a run: the code itself is unusable.
type FatalError struct {
	Code      string
	AccountID string
	Outcome   model.Outcome
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("code %s cannot be redeemed (%s, reported for account %s)", e.Code, e.Outcome, e.AccountID)
}

type Stats struct {
	PreExisting     int
	Redeemed        int
	AlreadyRedeemed int
	CaptchaFetched  int
	CaptchaSolved   int
	CaptchaMissed   int
	CaptchaRejected int
	ByMethod        map[string]int
}

// RunState is everything the orchestrator knows about the current run.
type RunState struct {
	Round     int
	Passes    map[string]int
	Retries   map[string]int
	Last      map[string]model.AccountState
	Succeeded map[string]bool
	FailedOut map[string]string
	Scheduler *scheduler.Scheduler
	Stats     Stats
}

func newRunState(sched *scheduler.Scheduler) *RunState {
	return &RunState{
		Passes:    make(map[string]int),
		Retries:   make(map[string]int),
		Last:      make(map[string]model.AccountState),
		Succeeded: make(map[string]bool),
		FailedOut: make(map[string]string),
		Scheduler: sched,
		Stats:     Stats{ByMethod: make(map[string]int)},
	}
}

// Done reports whether id needs no further rounds.
func (s *RunState) Done(id string) bool {
	if s.Succeeded[id] {
		return true
	}
	_, failed := s.FailedOut[id]
	return failed
}

func (s *RunState) record(report worker.Report) {
	s.Stats.CaptchaFetched += report.CaptchaFetched
	s.Stats.CaptchaMissed += report.CaptchaMissed
	if report.Captcha != nil {
		s.Stats.CaptchaSolved++
		switch report.Outcome.Kind {
		case model.OutcomeRetryableCaptcha:
			s.Stats.CaptchaRejected++
		case model.OutcomeRedeemed, model.OutcomeAlreadyRedeemed:
			// only an accepted redemption confirms the reading
			s.Stats.ByMethod[report.Captcha.Method]++
		}
	}
	if report.State == model.StateSuccessful {
		if report.Redeemed {
			s.Stats.Redeemed++
		} else {
			s.Stats.AlreadyRedeemed++
		}
	}
}

func (s *RunState) summary(code string, accounts []model.Account) ui.Summary {
	sum := ui.Summary{
		Code:            code,
		Round:           s.Round,
		Total:           len(accounts),
		PreExisting:     s.Stats.PreExisting,
		Redeemed:        s.Stats.Redeemed,
		AlreadyRedeemed: s.Stats.AlreadyRedeemed,
		Cooling:         s.Scheduler.Len(),
		CaptchaFetched:  s.Stats.CaptchaFetched,
		CaptchaSolved:   s.Stats.CaptchaSolved,
		CaptchaMissed:   s.Stats.CaptchaMissed,
		CaptchaRejected: s.Stats.CaptchaRejected,
		ByMethod:        s.Stats.ByMethod,
	}
	for _, acc := range accounts {
		if s.Succeeded[acc.ID] {
			continue
		}
		if _, failed := s.FailedOut[acc.ID]; failed {
			sum.Failed++
			continue
		}
		switch s.Last[acc.ID] {
		case model.StateUnsuccessful:
			sum.Failed++
		case model.StateUnprocessed:
			sum.Pending++
		case model.StateCooldown:
			if _, cooling := s.Scheduler.Get(acc.ID); !cooling {
				sum.Pending++
			}
		}
	}
	return sum
}
