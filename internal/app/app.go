package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/captcha"
	"github.com/ohmynofan/wos-giftcode-bot/internal/adapters/giftcode"
	adhttp "github.com/ohmynofan/wos-giftcode-bot/internal/adapters/http"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/solver"
	"github.com/ohmynofan/wos-giftcode-bot/internal/app/worker"
	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/results"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/runlog"
)

const (
	exitStatusOK        = "ok"
	exitStatusFatal     = "fatal"
	exitStatusCancelled = "cancelled"
	exitStatusError     = "error"
)

type App struct{ cfg config.Config }

func New(cfg config.Config) *App { return &App{cfg: cfg} }

func (app *App) Run(ctx context.Context) error {
	cfg := app.cfg
	log := logger.NewNamed("App", nil)

	accounts, err := cfg.LoadRoster()
	if err != nil {
		return fmt.Errorf("load roster %s: %w", cfg.RosterPath, err)
	}
	log.Log(fmt.Sprintf("Loaded %d account(s) from %s", len(accounts), cfg.RosterPath))

	store, err := results.Open(cfg.ResultsPath)
	if err != nil {
		return err
	}
	if ok, failed := store.Counts(cfg.Code); ok+failed > 0 {
		log.Log(fmt.Sprintf("Results for %s: %d successful, %d unsuccessful from earlier runs", cfg.Code, ok, failed))
	}

	var (
		journal *runlog.Store
		runID   string
	)
	if cfg.RunLogPath != "" {
		journal, err = runlog.NewStore(cfg.RunLogPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		if runID, err = journal.StartRun(cfg.Code); err != nil {
			return fmt.Errorf("start run journal: %w", err)
		}
	}

	policy := cfg.Policy
	apiClient, err := adhttp.NewAPIClient("", cfg.Endpoint.Origin, policy.HTTPTimeout(), adhttp.RetryPolicy{
		MaxRetries:       policy.TransportRetries,
		RetryDelay:       policy.TransportRetryDelay(),
		RateLimitRetries: policy.RateLimitRetries,
		RateLimitBackoff: policy.RateLimitBackoff(),
	}, nil)
	if err != nil {
		return fmt.Errorf("could not initialize API client: %w", err)
	}
	client := giftcode.NewClient(apiClient, cfg.Endpoint)

	engine, err := captcha.New(cfg)
	if err != nil {
		return fmt.Errorf("could not initialize OCR engine: %w", err)
	}
	defer engine.Close()

	delayMin, delayMax := policy.CaptchaDelayRange()
	captchaSolver := solver.New(client, engine, solver.Options{
		Attempts:       policy.CaptchaAttempts,
		MinConfidence:  policy.MinConfidence,
		DelayMin:       delayMin,
		DelayMax:       delayMax,
		DiagnosticsDir: cfg.DiagnosticsDir,
		SaveAll:        cfg.SaveAllCaptchaImages,
	})

	log.JustLog(fmt.Sprintf("OCR engine %s over %d transforms: %s", cfg.OCREngine, len(solver.Methods()), strings.Join(solver.Methods(), ", ")))

	w := worker.New(client, captchaSolver, worker.Cooldowns{
		RateLimited:      policy.RateLimitCooldown(),
		CaptchaExhausted: policy.CaptchaCooldown(),
		CaptchaRejected:  policy.CaptchaRejectedCooldown(),
	})

	opts := OrchestratorOptions{
		Code:     cfg.Code,
		Accounts: accounts,
		Policy:   policy,
		Restart:  cfg.Restart,
		RunID:    runID,
	}
	if journal != nil {
		opts.Journal = journal
	}
	orch := NewOrchestrator(opts, w, store)
	runErr := orch.Run(ctx)

	if journal != nil {
		if err := journal.FinishRun(runSummary(runID, orch.State(), runErr)); err != nil {
			log.JustLog(fmt.Sprintf("Could not close run journal: %v", err))
		}
	}
	return runErr
}

func runSummary(runID string, state *RunState, runErr error) runlog.Run {
	run := runlog.Run{ID: runID, ExitStatus: exitStatusOK}
	var fatal *FatalError
	switch {
	case runErr == nil:
	case errors.As(runErr, &fatal):
		run.ExitStatus = exitStatusFatal
	case errors.Is(runErr, context.Canceled):
		run.ExitStatus = exitStatusCancelled
	default:
		run.ExitStatus = exitStatusError
	}
	if state == nil {
		return run
	}
	run.Redeemed = state.Stats.Redeemed
	run.Already = state.Stats.AlreadyRedeemed
	run.PreExisting = state.Stats.PreExisting
	run.Failed = len(state.FailedOut)
	for id, st := range state.Last {
		if _, out := state.FailedOut[id]; !out && !state.Succeeded[id] && st.Terminal() {
			run.Failed++
		}
	}
	return run
}
