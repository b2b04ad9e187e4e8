package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/giftcode"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/solver"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/ui"
)

// API is the subset of the gift code client the state machine drives.
type API interface {
	BeginSession(session *model.Session)
	Authenticate(ctx context.Context, fid string) (giftcode.Player, error)
	Redeem(ctx context.Context, fid, code, captchaCode string) (model.Outcome, error)
}

type CaptchaSolver interface {
	Solve(ctx context.Context, session *model.Session) (solver.Result, error)
	Reject(session *model.Session, res solver.Result)
}

type Cooldowns struct {
	RateLimited      time.Duration
	CaptchaExhausted time.Duration
	CaptchaRejected  time.Duration
}

// Report is how one pass of an account ended. State is always terminal.
type Report struct {
	State       model.AccountState
	Outcome     model.Outcome
	Redeemed    bool
	Reason      string
	Cooldown    model.CooldownReason
	CooldownFor time.Duration
	Player      *giftcode.Player
	Captcha     *solver.Result

	CaptchaFetched int
	CaptchaMissed  int
}

func (r Report) Fatal() bool { return r.Outcome.IsFatal() }

// Worker drives a single account through login, captcha and redeem.
type Worker struct {
	api       API
	solver    CaptchaSolver
	cooldowns Cooldowns
	log       *logger.ClassLogger
}

func New(api API, captchaSolver CaptchaSolver, cooldowns Cooldowns) *Worker {
	w := &Worker{api: api, solver: captchaSolver, cooldowns: cooldowns}
	w.log = logger.NewNamed("Worker", nil)
	return w
}

// Process runs one pass for the account in session. The returned error is
// only set when ctx is done; every other failure is described by the Report.
func (w *Worker) Process(ctx context.Context, session *model.Session, code string) (Report, error) {
	log := w.log.WithSession(session)
	fid := session.AccountID

	w.api.BeginSession(session)

	log.Log("Logging in")
	player, err := w.api.Authenticate(ctx, fid)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Report{}, ctxErr
		}
		return w.fail(session, log, fmt.Sprintf("login: %v", err)), nil
	}
	w.transition(session, model.StateAuthenticated)
	if player.Nickname != "" {
		session.Nickname = player.Nickname
		log.Log(fmt.Sprintf("Logged in as %s (state %d, furnace %d)", player.Nickname, player.Kingdom, player.FurnaceLevel))
	}
	log.LogObject("Player", player)

	w.transition(session, model.StateCaptchaSolving)
	result, err := w.solver.Solve(ctx, session)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Report{}, ctxErr
		}
		report := w.solveFailure(session, log, err)
		report.Player = &player
		return report, nil
	}
	session.LastCaptcha = result.Text

	w.transition(session, model.StateRedeeming)
	log.Log(fmt.Sprintf("Redeeming %s with captcha %s", code, result.Text))
	outcome, err := w.api.Redeem(ctx, fid, code, result.Text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Report{}, ctxErr
		}
		outcome = model.Outcome{Kind: model.OutcomeUnknownError, Message: err.Error()}
	}

	report := w.afterRedeem(session, log, outcome, result)
	report.Player = &player
	report.Captcha = &result
	report.CaptchaFetched = result.Attempt
	report.CaptchaMissed = result.Unrecognized
	return report, nil
}

func (w *Worker) solveFailure(session *model.Session, log *logger.ClassLogger, err error) Report {
	report := Report{}
	var failure *solver.Failure
	if errors.As(err, &failure) {
		report.CaptchaFetched = failure.Attempts
		report.CaptchaMissed = failure.Missed
	}

	switch {
	case errors.Is(err, solver.ErrRateLimited):
		report = w.cooldown(session, log, report, model.CooldownReasonRateLimited, w.cooldowns.RateLimited, "captcha rate limited")
	case errors.Is(err, solver.ErrNoCandidate):
		report = w.cooldown(session, log, report, model.CooldownReasonCaptchaExhausted, w.cooldowns.CaptchaExhausted, "captcha not recognized")
	default:
		report = w.failWith(session, log, report, fmt.Sprintf("captcha: %v", err))
	}
	return report
}

func (w *Worker) afterRedeem(session *model.Session, log *logger.ClassLogger, outcome model.Outcome, result solver.Result) Report {
	report := Report{Outcome: outcome}

	switch outcome.Kind {
	case model.OutcomeRedeemed, model.OutcomeAlreadyRedeemed:
		w.transition(session, model.StateSuccessful)
		report.State = model.StateSuccessful
		report.Redeemed = outcome.Kind == model.OutcomeRedeemed
		msg := "Code redeemed"
		if !report.Redeemed {
			msg = "Already redeemed"
			if outcome.SameType {
				msg = "Already redeemed a code of the same type"
			}
		}
		log.JustLog(msg)
		ui.SetSpinnerSuccess(*session, msg)

	case model.OutcomeRetryableCaptcha:
		w.solver.Reject(session, result)
		report = w.cooldown(session, log, report, model.CooldownReasonCaptchaRejected, w.cooldowns.CaptchaRejected, "captcha rejected: "+outcome.Message)

	case model.OutcomeRateLimited:
		report = w.cooldown(session, log, report, model.CooldownReasonRateLimited, w.cooldowns.RateLimited, "rate limited: "+outcome.Message)

	case model.OutcomeSessionExpired:
		w.api.BeginSession(session)
		report = w.failWith(session, log, report, "session expired: "+outcome.Message)

	case model.OutcomeFatalExpired, model.OutcomeFatalInvalid, model.OutcomeFatalUsed:
		report = w.failWith(session, log, report, "code unusable: "+outcome.String())

	default:
		report = w.failWith(session, log, report, outcome.String())
	}
	return report
}

func (w *Worker) cooldown(session *model.Session, log *logger.ClassLogger, report Report, reason model.CooldownReason, d time.Duration, msg string) Report {
	w.transition(session, model.StateCooldown)
	report.State = model.StateCooldown
	report.Cooldown = reason
	report.CooldownFor = d
	report.Reason = msg
	log.JustLog(fmt.Sprintf("Cooling down for %s: %s", d, msg))
	ui.SetSpinnerWarning(*session, fmt.Sprintf("%s, retry in %s", msg, ui.FormatDelay(d)))
	return report
}

func (w *Worker) fail(session *model.Session, log *logger.ClassLogger, reason string) Report {
	return w.failWith(session, log, Report{}, reason)
}

func (w *Worker) failWith(session *model.Session, log *logger.ClassLogger, report Report, reason string) Report {
	w.transition(session, model.StateUnsuccessful)
	report.State = model.StateUnsuccessful
	report.Reason = reason
	log.JustLog("Failed: " + reason)
	ui.SetSpinnerError(*session, reason)
	return report
}

func (w *Worker) transition(session *model.Session, state model.AccountState) {
	session.State = state
}
