package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/app/solver"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/worker"
	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/results"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/runlog"
)

type call struct {
	id string
	at time.Time
}

// scriptedProcessor answers with the next scripted report for an account,
// repeating the last one when the script runs out.
type scriptedProcessor struct {
	clock   *fakeClock
	scripts map[string][]worker.Report
	calls   []call
}

func (p *scriptedProcessor) Process(ctx context.Context, session *model.Session, code string) (worker.Report, error) {
	id := session.AccountID
	p.calls = append(p.calls, call{id: id, at: p.clock.now})
	script := p.scripts[id]
	if len(script) == 0 {
		return redeemed(), nil
	}
	report := script[0]
	if len(script) > 1 {
		p.scripts[id] = script[1:]
	}
	return report, nil
}

func (p *scriptedProcessor) callsFor(id string) []call {
	var out []call
	for _, c := range p.calls {
		if c.id == id {
			out = append(out, c)
		}
	}
	return out
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

type memJournal struct{ attempts []runlog.Attempt }

func (j *memJournal) RecordAttempt(a runlog.Attempt) error {
	j.attempts = append(j.attempts, a)
	return nil
}

func redeemed() worker.Report {
	return worker.Report{
		State:          model.StateSuccessful,
		Redeemed:       true,
		Outcome:        model.Outcome{Kind: model.OutcomeRedeemed, ErrCode: 20000, Message: "SUCCESS"},
		Captcha:        &solver.Result{Text: "AB12", Method: "otsu", Confidence: 0.9},
		CaptchaFetched: 1,
	}
}

func received() worker.Report {
	r := redeemed()
	r.Redeemed = false
	r.Outcome = model.Outcome{Kind: model.OutcomeAlreadyRedeemed, ErrCode: 40008, Message: "RECEIVED."}
	return r
}

func captchaExhausted() worker.Report {
	return worker.Report{
		State:          model.StateCooldown,
		Cooldown:       model.CooldownReasonCaptchaExhausted,
		CooldownFor:    30 * time.Second,
		Reason:         "captcha not recognized",
		CaptchaFetched: 4,
		CaptchaMissed:  4,
	}
}

func timeError() worker.Report {
	return worker.Report{
		State:   model.StateUnsuccessful,
		Outcome: model.Outcome{Kind: model.OutcomeFatalExpired, ErrCode: 40007, Message: "TIME ERROR."},
		Captcha: &solver.Result{Text: "AB12", Method: "original"},
		Reason:  "code unusable",
	}
}

func testPolicy() config.Policy {
	p := config.DefaultPolicy()
	p.MaxRetries = 2
	return p
}

var roster = []model.Account{
	{ID: "1", DisplayName: "alpha"},
	{ID: "2", DisplayName: "bravo"},
	{ID: "3", DisplayName: "charlie"},
}

type harness struct {
	orch    *Orchestrator
	proc    *scriptedProcessor
	clock   *fakeClock
	store   *results.Store
	path    string
	journal *memJournal
}

func newHarness(t *testing.T, seed string, scripts map[string][]worker.Report, restart bool) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.json")
	if seed != "" {
		if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := results.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	if scripts == nil {
		scripts = map[string][]worker.Report{}
	}
	proc := &scriptedProcessor{clock: clock, scripts: scripts}
	journal := &memJournal{}

	orch := NewOrchestrator(OrchestratorOptions{
		Code:     "SPRING",
		Accounts: roster,
		Policy:   testPolicy(),
		Restart:  restart,
		Journal:  journal,
		RunID:    "run-1",
	}, proc, store)
	orch.now = clock.Now
	orch.sleep = clock.Sleep
	return &harness{orch: orch, proc: proc, clock: clock, store: store, path: path, journal: journal}
}

func (h *harness) fileStatus(t *testing.T) map[string]model.AccountStatus {
	t.Helper()
	data, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	var records []results.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatal(err)
	}
	for _, r := range records {
		if r.Code == "SPRING" {
			return r.Status
		}
	}
	return nil
}

func TestRun_SkipsPreviouslySuccessful(t *testing.T) {
	h := newHarness(t, `[{"code":"SPRING","status":{"1":"Successful"}}]`, nil, false)

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := h.proc.callsFor("1"); len(got) != 0 {
		t.Errorf("account 1 processed %d time(s), want 0", len(got))
	}
	if len(h.proc.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(h.proc.calls))
	}
	sum := h.orch.State().summary("SPRING", roster)
	if sum.PreExisting != 1 || sum.Redeemed != 2 {
		t.Errorf("summary = %+v, want 1 pre-existing and 2 redeemed", sum)
	}
	status := h.fileStatus(t)
	for _, id := range []string{"1", "2", "3"} {
		if status[id] != model.StatusSuccessful {
			t.Errorf("status[%s] = %s, want Successful", id, status[id])
		}
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t, "", nil, false)
	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	second := newHarness(t, "", nil, false)
	second.path = h.path
	store, _ := results.Open(h.path)
	second.orch.results = store
	if err := second.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(second.proc.calls) != 0 {
		t.Errorf("second run processed %d account(s), want 0", len(second.proc.calls))
	}
	if second.orch.State().Stats.PreExisting != 3 {
		t.Errorf("PreExisting = %d, want 3", second.orch.State().Stats.PreExisting)
	}
}

func TestRun_AlreadyRedeemedCountsAsSuccess(t *testing.T) {
	h := newHarness(t, "", map[string][]worker.Report{"2": {received()}}, false)

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.fileStatus(t)["2"]; got != model.StatusSuccessful {
		t.Errorf("status[2] = %s, want Successful", got)
	}
	stats := h.orch.State().Stats
	if stats.AlreadyRedeemed != 1 || stats.Redeemed != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_CaptchaExhaustionCoolsDownThenFailsOut(t *testing.T) {
	h := newHarness(t, "", map[string][]worker.Report{"2": {captchaExhausted()}}, false)
	start := h.clock.now

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	calls := h.proc.callsFor("2")
	// first pass plus MaxRetries retries
	if len(calls) != 3 {
		t.Fatalf("account 2 processed %d time(s), want 3", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].at.Sub(calls[i-1].at); gap < 30*time.Second {
			t.Errorf("retry %d came %s after the previous pass, before the 30s cooldown", i, gap)
		}
	}
	if calls[0].at != start {
		t.Errorf("first pass at %s, want %s", calls[0].at, start)
	}

	reason, ok := h.orch.State().FailedOut["2"]
	if !ok || !strings.Contains(reason, "gave up after 2 retries") {
		t.Errorf("FailedOut[2] = %q, %v", reason, ok)
	}
	if h.orch.State().Scheduler.Len() != 0 {
		t.Errorf("scheduler still holds %d entries", h.orch.State().Scheduler.Len())
	}
	if got := h.fileStatus(t)["2"]; got != model.StatusUnsuccessful {
		t.Errorf("status[2] = %s, want Unsuccessful", got)
	}
	for _, d := range h.clock.sleeps {
		if d > 5*time.Second {
			t.Errorf("slept %s in one step, want at most the 5s poll interval", d)
		}
	}
	last := h.journal.attempts[len(h.journal.attempts)-1]
	if last.AccountID != "2" || !strings.Contains(last.Message, "gave up") {
		t.Errorf("last journal entry = %+v", last)
	}
}

func TestRun_FatalAbortsRun(t *testing.T) {
	h := newHarness(t, "", map[string][]worker.Report{"2": {timeError()}}, false)

	err := h.orch.Run(context.Background())
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("Run() error = %v, want *FatalError", err)
	}
	if fatal.Outcome.Kind != model.OutcomeFatalExpired || fatal.AccountID != "2" {
		t.Errorf("fatal = %+v", fatal)
	}
	if len(h.proc.callsFor("3")) != 0 {
		t.Error("account 3 processed after a fatal outcome")
	}
	status := h.fileStatus(t)
	if status["1"] != model.StatusSuccessful {
		t.Errorf("status[1] = %s, want Successful", status["1"])
	}
	if _, present := status["3"]; present {
		t.Errorf("untried account 3 present in results: %v", status)
	}
}

func TestRun_RestartReprocessesWithoutRegression(t *testing.T) {
	unknown := worker.Report{State: model.StateUnsuccessful, Outcome: model.Outcome{Kind: model.OutcomeUnknownError, Message: "odd"}, Reason: "odd"}
	scripts := map[string][]worker.Report{"1": {unknown, redeemed()}}
	h := newHarness(t, `[{"code":"SPRING","status":{"1":"Successful"}}]`, scripts, true)

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.proc.callsFor("1")) == 0 {
		t.Fatal("restart did not reprocess account 1")
	}
	if got := h.fileStatus(t)["1"]; got != model.StatusSuccessful {
		t.Errorf("status[1] = %s, want Successful kept", got)
	}
}

func TestRun_RoundLimit(t *testing.T) {
	failing := worker.Report{State: model.StateUnsuccessful, Reason: "login: role not exist"}
	h := newHarness(t, "", map[string][]worker.Report{"3": {failing}}, false)
	h.orch.policy.MaxRounds = 2
	h.orch.policy.MaxRetries = 10

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(h.proc.callsFor("3")); got != 2 {
		t.Errorf("account 3 processed %d time(s), want 2", got)
	}
	if h.orch.State().Round != 2 {
		t.Errorf("Round = %d, want 2", h.orch.State().Round)
	}
	for _, d := range h.clock.sleeps {
		if d != 2*time.Second {
			t.Errorf("sleep = %s, want the 2s round delay", d)
		}
	}
}

func TestRun_RoundLimitSkipsCooldownWait(t *testing.T) {
	h := newHarness(t, "", map[string][]worker.Report{"2": {captchaExhausted()}}, false)
	h.orch.policy.MaxRounds = 1

	if err := h.orch.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(h.proc.callsFor("2")); got != 1 {
		t.Errorf("account 2 processed %d time(s), want 1", got)
	}
	if len(h.clock.sleeps) != 0 {
		t.Errorf("sleeps = %v, want none once the round limit is reached", h.clock.sleeps)
	}
}

func TestRecord_MethodCreditedOnlyWhenAccepted(t *testing.T) {
	state := newRunState(nil)
	withCaptcha := func(kind model.OutcomeKind, method string) worker.Report {
		return worker.Report{
			State:   model.StateUnsuccessful,
			Outcome: model.Outcome{Kind: kind},
			Captcha: &solver.Result{Text: "AB12", Method: method},
		}
	}

	state.record(withCaptcha(model.OutcomeRateLimited, "otsu"))
	state.record(withCaptcha(model.OutcomeSessionExpired, "otsu"))
	state.record(withCaptcha(model.OutcomeFatalExpired, "otsu"))
	state.record(withCaptcha(model.OutcomeRetryableCaptcha, "edges"))
	state.record(withCaptcha(model.OutcomeRedeemed, "grayscale"))
	state.record(withCaptcha(model.OutcomeAlreadyRedeemed, "grayscale"))

	if len(state.Stats.ByMethod) != 1 || state.Stats.ByMethod["grayscale"] != 2 {
		t.Errorf("ByMethod = %v, want only grayscale=2", state.Stats.ByMethod)
	}
	if state.Stats.CaptchaRejected != 1 || state.Stats.CaptchaSolved != 6 {
		t.Errorf("stats = %+v", state.Stats)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	h := newHarness(t, "", nil, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.orch.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(h.proc.calls) != 0 {
		t.Errorf("processed %d account(s) after cancellation", len(h.proc.calls))
	}
}

func TestRunSummary(t *testing.T) {
	state := newRunState(nil)
	state.Stats.Redeemed = 2
	state.Succeeded["1"] = true
	state.Last["1"] = model.StateSuccessful
	state.Last["2"] = model.StateUnsuccessful
	state.FailedOut["3"] = "gave up"
	state.Last["3"] = model.StateUnsuccessful

	run := runSummary("r", state, &FatalError{Code: "X"})
	if run.ExitStatus != exitStatusFatal || run.Failed != 2 || run.Redeemed != 2 {
		t.Errorf("run = %+v", run)
	}
	if got := runSummary("r", nil, context.Canceled).ExitStatus; got != exitStatusCancelled {
		t.Errorf("ExitStatus = %s, want cancelled", got)
	}
}
