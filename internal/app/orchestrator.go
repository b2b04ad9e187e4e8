package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/app/scheduler"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/worker"
	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/ui"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/results"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/runlog"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

type Processor interface {
	Process(ctx context.Context, session *model.Session, code string) (worker.Report, error)
}

type ResultSink interface {
	Ensure(code string)
	Status(code, accountID string) model.AccountStatus
	SetStatus(code, accountID string, status model.AccountStatus) error
	Flush() error
}

// Journal receives one entry per account pass. It may be nil.
type Journal interface {
	RecordAttempt(a runlog.Attempt) error
}

type Orchestrator struct {
	code      string
	accounts  []model.Account
	policy    config.Policy
	restart   bool
	processor Processor
	results   ResultSink
	journal   Journal
	runID     string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.ClassLogger
	state *RunState
}

type OrchestratorOptions struct {
	Code     string
	Accounts []model.Account
	Policy   config.Policy
	Restart  bool
	Journal  Journal
	RunID    string
}

func NewOrchestrator(opts OrchestratorOptions, processor Processor, sink ResultSink) *Orchestrator {
	o := &Orchestrator{
		code:      opts.Code,
		accounts:  opts.Accounts,
		policy:    opts.Policy,
		restart:   opts.Restart,
		processor: processor,
		results:   sink,
		journal:   opts.Journal,
		runID:     opts.RunID,
		now:       time.Now,
		sleep:     utils.Sleep,
	}
	o.log = logger.NewLogger(o, nil)
	return o
}

// State exposes the run counters, mainly for the final report.
func (o *Orchestrator) State() *RunState { return o.state }

// Run processes rounds until every account is settled, the round limit is
// hit or a fatal outcome aborts the run. A fatal outcome is returned as
// *FatalError after the results have been flushed.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.state = newRunState(scheduler.New(o.now))
	o.results.Ensure(o.code)

	for _, acc := range o.accounts {
		if o.results.Status(o.code, acc.ID) == model.StatusSuccessful && !o.restart {
			o.state.Succeeded[acc.ID] = true
			o.state.Stats.PreExisting++
		}
	}
	if o.state.Stats.PreExisting > 0 {
		o.log.Log(fmt.Sprintf("Skipping %d account(s) already successful for %s", o.state.Stats.PreExisting, o.code))
	}
	if err := o.results.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.state.Scheduler.Ready(o.now())

		if len(o.pending()) == 0 {
			break
		}
		if o.state.Round >= o.policy.MaxRounds {
			o.log.Log(fmt.Sprintf("Stopping after %d rounds with %d account(s) unsettled", o.state.Round, len(o.pending())))
			break
		}

		eligible := o.eligible()
		if len(eligible) == 0 {
			if err := o.waitForCooldown(ctx); err != nil {
				return err
			}
			continue
		}
		o.state.Round++
		ui.PrintRound(o.state.Round, len(eligible), o.state.Scheduler.Len())

		for _, idx := range eligible {
			if err := o.processAccount(ctx, idx); err != nil {
				return err
			}
		}
		ui.PrintSummary(o.state.summary(o.code, o.accounts), false)

		if len(o.pending()) == 0 {
			break
		}
		if len(o.eligible()) > 0 && o.state.Round < o.policy.MaxRounds {
			if err := o.sleep(ctx, o.policy.RoundDelay()); err != nil {
				return err
			}
		}
	}

	ui.PrintSummary(o.state.summary(o.code, o.accounts), true)
	return nil
}

func (o *Orchestrator) processAccount(ctx context.Context, idx int) error {
	acc := o.accounts[idx]
	id := acc.ID
	if o.state.Done(id) || o.state.Scheduler.IsCooling(id, o.now()) {
		return nil
	}

	if o.state.Passes[id] > 0 {
		o.state.Retries[id]++
		if o.state.Retries[id] > o.policy.MaxRetries {
			return o.failOut(acc, fmt.Sprintf("gave up after %d retries (last state %s)", o.policy.MaxRetries, o.state.Last[id]))
		}
	}

	session := model.NewSession(acc, idx, len(o.accounts))
	session.Round = o.state.Round
	session.Attempt = o.state.Passes[id] + 1

	report, err := o.processor.Process(ctx, session, o.code)
	if err != nil {
		if flushErr := o.results.Flush(); flushErr != nil {
			o.log.JustLog(fmt.Sprintf("Flush after cancellation failed: %v", flushErr))
		}
		return err
	}
	o.state.Passes[id]++
	o.state.Last[id] = report.State
	o.state.record(report)

	status := model.StatusUnsuccessful
	switch report.State {
	case model.StateSuccessful:
		status = model.StatusSuccessful
		o.state.Succeeded[id] = true
		o.state.Scheduler.Remove(id)
	case model.StateCooldown:
		at := o.now().Add(report.CooldownFor)
		if err := o.state.Scheduler.Schedule(id, at, report.Cooldown); err != nil {
			o.log.JustLog(fmt.Sprintf("Could not schedule cooldown for %s: %v", id, err))
		}
	}
	o.setStatus(id, status)
	o.journalAttempt(session, report)

	if err := o.results.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}

	if report.Fatal() {
		fatal := &FatalError{Code: o.code, AccountID: id, Outcome: report.Outcome}
		ui.PrintFatal(fatal.Error())
		o.log.JustLog(fatal.Error())
		return fatal
	}
	return nil
}

func (o *Orchestrator) failOut(acc model.Account, reason string) error {
	o.state.FailedOut[acc.ID] = reason
	o.state.Scheduler.Remove(acc.ID)
	o.state.Last[acc.ID] = model.StateUnsuccessful
	o.log.Log(fmt.Sprintf("Account %s (%s): %s", acc.ID, acc.DisplayName, reason))
	o.setStatus(acc.ID, model.StatusUnsuccessful)
	o.journalAttempt(&model.Session{AccountID: acc.ID, Round: o.state.Round}, worker.Report{State: model.StateUnsuccessful, Reason: reason})
	if err := o.results.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

func (o *Orchestrator) setStatus(id string, status model.AccountStatus) {
	if err := o.results.SetStatus(o.code, id, status); err != nil {
		if errors.Is(err, results.ErrRegression) {
			o.log.JustLog(fmt.Sprintf("Keeping %s successful: %v", id, err))
			return
		}
		o.log.JustLog(fmt.Sprintf("Could not record status for %s: %v", id, err))
	}
}

func (o *Orchestrator) journalAttempt(session *model.Session, report worker.Report) {
	if o.journal == nil {
		return
	}
	a := runlog.Attempt{
		RunID:     o.runID,
		Round:     session.Round,
		AccountID: session.AccountID,
		State:     report.State.String(),
		ErrCode:   report.Outcome.ErrCode,
		Message:   report.Reason,
	}
	if report.Captcha != nil {
		a.Outcome = report.Outcome.Kind.String()
		a.CaptchaText = report.Captcha.Text
		a.CaptchaMethod = report.Captcha.Method
		a.CaptchaConfidence = report.Captcha.Confidence
		if a.Message == "" {
			a.Message = report.Outcome.Message
		}
	}
	if err := o.journal.RecordAttempt(a); err != nil {
		o.log.JustLog(fmt.Sprintf("Could not journal attempt for %s: %v", session.AccountID, err))
	}
}

// pending lists roster indexes that still need work.
func (o *Orchestrator) pending() []int {
	var out []int
	for i, acc := range o.accounts {
		if !o.state.Done(acc.ID) {
			out = append(out, i)
		}
	}
	return out
}

func (o *Orchestrator) eligible() []int {
	now := o.now()
	var out []int
	for _, i := range o.pending() {
		if !o.state.Scheduler.IsCooling(o.accounts[i].ID, now) {
			out = append(out, i)
		}
	}
	return out
}

// waitForCooldown sleeps until the earliest cooldown ends, waking at least
// every poll interval.
func (o *Orchestrator) waitForCooldown(ctx context.Context) error {
	next, ok := o.state.Scheduler.Next()
	if !ok {
		return nil
	}
	for {
		remaining := next.EligibleAt.Sub(o.now())
		if remaining <= 0 {
			return nil
		}
		step := remaining
		if poll := o.policy.PollInterval(); poll > 0 && poll < step {
			step = poll
		}
		ui.PrintMessage(fmt.Sprintf("Waiting for cooldown: next account eligible in %s", ui.FormatDelay(remaining)))
		msg := fmt.Sprintf("All pending accounts cooling down (%s), next eligible in %s", next.Reason, remaining.Round(time.Second))
		if err := o.log.WithSleeper(o.sleep).Wait(ctx, msg, step); err != nil {
			return err
		}
	}
}
