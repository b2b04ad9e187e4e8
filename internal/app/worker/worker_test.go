package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/giftcode"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/solver"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

type fakeAPI struct {
	loginErr    error
	outcome     model.Outcome
	redeemErr   error
	resets      int
	sessions    []*model.Session
	redeemCalls int
	lastCaptcha string
}

func (f *fakeAPI) BeginSession(session *model.Session) {
	f.resets++
	f.sessions = append(f.sessions, session)
}

func (f *fakeAPI) Authenticate(ctx context.Context, fid string) (giftcode.Player, error) {
	if f.loginErr != nil {
		return giftcode.Player{}, f.loginErr
	}
	return giftcode.Player{FID: fid, Nickname: "Frosty", Kingdom: 12, FurnaceLevel: 25}, nil
}

func (f *fakeAPI) Redeem(ctx context.Context, fid, code, captchaCode string) (model.Outcome, error) {
	f.redeemCalls++
	f.lastCaptcha = captchaCode
	return f.outcome, f.redeemErr
}

type fakeSolver struct {
	result   solver.Result
	err      error
	rejected []string
	session  *model.Session
	state    model.AccountState
}

func (f *fakeSolver) Solve(ctx context.Context, session *model.Session) (solver.Result, error) {
	f.session = session
	f.state = session.State
	return f.result, f.err
}

func (f *fakeSolver) Reject(session *model.Session, res solver.Result) {
	f.rejected = append(f.rejected, session.AccountID+":"+res.Text)
}

var testCooldowns = Cooldowns{
	RateLimited:      time.Minute,
	CaptchaExhausted: 30 * time.Second,
	CaptchaRejected:  5 * time.Second,
}

func newSession() *model.Session {
	return model.NewSession(model.Account{ID: "123", DisplayName: "frost"}, 0, 1)
}

func TestProcess_Outcomes(t *testing.T) {
	solved := solver.Result{Text: "AB12", Confidence: 0.9, Method: "otsu", Attempt: 2, Unrecognized: 1}

	tests := []struct {
		name     string
		outcome  model.Outcome
		state    model.AccountState
		cooldown model.CooldownReason
		wait     time.Duration
		redeemed bool
		fatal    bool
	}{
		{"redeemed", model.Outcome{Kind: model.OutcomeRedeemed}, model.StateSuccessful, "", 0, true, false},
		{"received", model.Outcome{Kind: model.OutcomeAlreadyRedeemed, Message: "RECEIVED."}, model.StateSuccessful, "", 0, false, false},
		{"captcha rejected", model.Outcome{Kind: model.OutcomeRetryableCaptcha, Message: "CAPTCHA CHECK ERROR."}, model.StateCooldown, model.CooldownReasonCaptchaRejected, 5 * time.Second, false, false},
		{"rate limited", model.Outcome{Kind: model.OutcomeRateLimited}, model.StateCooldown, model.CooldownReasonRateLimited, time.Minute, false, false},
		{"session expired", model.Outcome{Kind: model.OutcomeSessionExpired}, model.StateUnsuccessful, "", 0, false, false},
		{"unknown", model.Outcome{Kind: model.OutcomeUnknownError, Message: "???"}, model.StateUnsuccessful, "", 0, false, false},
		{"transport", model.Outcome{Kind: model.OutcomeTransportFailure}, model.StateUnsuccessful, "", 0, false, false},
		{"expired code", model.Outcome{Kind: model.OutcomeFatalExpired, Message: "TIME ERROR."}, model.StateUnsuccessful, "", 0, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{outcome: tt.outcome}
			slv := &fakeSolver{result: solved}
			w := New(api, slv, testCooldowns)
			session := newSession()

			report, err := w.Process(context.Background(), session, "WOSGIFT")
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if report.State != tt.state || session.State != tt.state {
				t.Errorf("state = %s (session %s), want %s", report.State, session.State, tt.state)
			}
			if report.Cooldown != tt.cooldown || report.CooldownFor != tt.wait {
				t.Errorf("cooldown = %s/%s, want %s/%s", report.Cooldown, report.CooldownFor, tt.cooldown, tt.wait)
			}
			if report.Redeemed != tt.redeemed || report.Fatal() != tt.fatal {
				t.Errorf("redeemed=%v fatal=%v", report.Redeemed, report.Fatal())
			}
			if api.lastCaptcha != "AB12" {
				t.Errorf("captcha sent = %q, want AB12", api.lastCaptcha)
			}
			if report.CaptchaFetched != 2 || report.CaptchaMissed != 1 {
				t.Errorf("captcha stats = %d/%d, want 2/1", report.CaptchaFetched, report.CaptchaMissed)
			}
			if session.Nickname != "Frosty" {
				t.Errorf("nickname = %q", session.Nickname)
			}
		})
	}
}

func TestProcess_RejectedCaptchaIsDumped(t *testing.T) {
	api := &fakeAPI{outcome: model.Outcome{Kind: model.OutcomeRetryableCaptcha}}
	slv := &fakeSolver{result: solver.Result{Text: "ZZ11"}}
	w := New(api, slv, testCooldowns)

	if _, err := w.Process(context.Background(), newSession(), "CODE"); err != nil {
		t.Fatal(err)
	}
	if len(slv.rejected) != 1 || slv.rejected[0] != "123:ZZ11" {
		t.Errorf("rejected = %v, want [123:ZZ11]", slv.rejected)
	}
}

func TestProcess_SessionExpiredResetsCookies(t *testing.T) {
	api := &fakeAPI{outcome: model.Outcome{Kind: model.OutcomeSessionExpired, Message: "NOT LOGIN."}}
	w := New(api, &fakeSolver{result: solver.Result{Text: "AB12"}}, testCooldowns)

	report, err := w.Process(context.Background(), newSession(), "CODE")
	if err != nil {
		t.Fatal(err)
	}
	if api.resets != 2 {
		t.Errorf("resets = %d, want 2 (before login and after NOT LOGIN)", api.resets)
	}
	if !strings.Contains(report.Reason, "session expired") {
		t.Errorf("reason = %q", report.Reason)
	}
}

func TestProcess_LoginFailure(t *testing.T) {
	api := &fakeAPI{loginErr: fmt.Errorf("%w: role not exist.", giftcode.ErrLoginFailed)}
	w := New(api, &fakeSolver{}, testCooldowns)
	session := newSession()

	report, err := w.Process(context.Background(), session, "CODE")
	if err != nil {
		t.Fatal(err)
	}
	if report.State != model.StateUnsuccessful || !strings.Contains(report.Reason, "role not exist") {
		t.Errorf("report = %+v", report)
	}
	if api.redeemCalls != 0 {
		t.Errorf("redeem called %d times after failed login", api.redeemCalls)
	}
}

func TestProcess_SolverFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		state    model.AccountState
		cooldown model.CooldownReason
		missed   int
	}{
		{"exhausted", &solver.Failure{Attempts: 4, Missed: 4, Err: solver.ErrNoCandidate}, model.StateCooldown, model.CooldownReasonCaptchaExhausted, 4},
		{"rate limited", &solver.Failure{Attempts: 1, Err: fmt.Errorf("%w: too frequent", solver.ErrRateLimited)}, model.StateCooldown, model.CooldownReasonRateLimited, 0},
		{"rate limited after misses", &solver.Failure{Attempts: 3, Missed: 2, Err: solver.ErrRateLimited}, model.StateCooldown, model.CooldownReasonRateLimited, 2},
		{"fetch failed after misses", &solver.Failure{Attempts: 2, Missed: 1, Err: errors.New("captcha unavailable")}, model.StateUnsuccessful, "", 1},
		{"other", errors.New("captcha unavailable"), model.StateUnsuccessful, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			w := New(api, &fakeSolver{err: tt.err}, testCooldowns)

			report, err := w.Process(context.Background(), newSession(), "CODE")
			if err != nil {
				t.Fatal(err)
			}
			if report.State != tt.state || report.Cooldown != tt.cooldown {
				t.Errorf("report = %s/%s, want %s/%s", report.State, report.Cooldown, tt.state, tt.cooldown)
			}
			if report.CaptchaMissed != tt.missed {
				t.Errorf("missed = %d, want %d", report.CaptchaMissed, tt.missed)
			}
			if api.redeemCalls != 0 {
				t.Errorf("redeem called without a captcha")
			}
		})
	}
}

func TestProcess_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{loginErr: context.Canceled}
	w := New(api, &fakeSolver{}, testCooldowns)

	if _, err := w.Process(ctx, newSession(), "CODE"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestProcess_SessionReachesCollaborators(t *testing.T) {
	api := &fakeAPI{outcome: model.Outcome{Kind: model.OutcomeRedeemed}}
	slv := &fakeSolver{result: solver.Result{Text: "AB12", Attempt: 1}}
	w := New(api, slv, testCooldowns)
	session := newSession()

	if _, err := w.Process(context.Background(), session, "CODE"); err != nil {
		t.Fatal(err)
	}
	if len(api.sessions) != 1 || api.sessions[0] != session {
		t.Errorf("api sessions = %v, want the processed session once", api.sessions)
	}
	if slv.session != session {
		t.Errorf("solver session = %v, want the processed session", slv.session)
	}
	if slv.state != model.StateCaptchaSolving {
		t.Errorf("state seen by solver = %s, want %s", slv.state, model.StateCaptchaSolving)
	}
	if session.Nickname != "Frosty" {
		t.Errorf("Nickname = %q, want Frosty from login", session.Nickname)
	}
}
