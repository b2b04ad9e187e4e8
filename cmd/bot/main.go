package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ohmynofan/wos-giftcode-bot/internal/app"
	"github.com/ohmynofan/wos-giftcode-bot/internal/config"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/ui"
	"github.com/ohmynofan/wos-giftcode-bot/internal/storage/runlog"
)

const (
	exitOK    = 0
	exitError = 1
	exitFatal = 2
)

var (
	envFile     string
	code        string
	playerFile  string
	resultsFile string
	policyFile  string
	ocrDevice   string
	restart     bool
	saveCaptcha bool
	plain       bool

	rootCmd = &cobra.Command{
		Use:   "wos-giftcode",
		Short: "Redeem a gift code for every account in a roster",
		Long: `wos-giftcode logs in as each player in the roster, solves the captcha
with an ensemble of OCR passes and redeems the gift code. Results are kept
per code in a JSON file so interrupted runs can resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRedeem,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show previous runs recorded in the run journal",
		RunE:  runHistory,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "env file to load")
	rootCmd.PersistentFlags().StringVarP(&code, "code", "c", "", "gift code to redeem")

	rootCmd.Flags().StringVarP(&playerFile, "player-file", "f", "player.json", "roster of accounts")
	rootCmd.Flags().StringVarP(&resultsFile, "results-file", "r", "results.json", "per-code results file")
	rootCmd.Flags().StringVar(&policyFile, "policy", "", "TOML file overriding retry and cooldown policy")
	rootCmd.Flags().StringVar(&ocrDevice, "ocr-device", "", "device hint passed to the remote OCR engine")
	rootCmd.Flags().BoolVar(&restart, "restart", false, "reprocess accounts already marked successful")
	rootCmd.Flags().BoolVar(&saveCaptcha, "save-captcha-images", false, "keep every captcha image under the diagnostics dir")
	rootCmd.Flags().BoolVar(&plain, "plain", false, "plain line output instead of live spinners")

	rootCmd.AddCommand(historyCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}
	fmt.Fprintln(os.Stderr, err)

	var fatal *app.FatalError
	if errors.As(err, &fatal) {
		os.Exit(exitFatal)
	}
	os.Exit(exitError)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Load(envFile)
	cfg.Code = code
	if cmd.Flags().Changed("player-file") || cfg.RosterPath == "" {
		cfg.RosterPath = playerFile
	}
	if cmd.Flags().Changed("results-file") || cfg.ResultsPath == "" {
		cfg.ResultsPath = resultsFile
	}
	if policyFile != "" {
		cfg.PolicyPath = policyFile
	}
	if ocrDevice != "" {
		cfg.OCRDevice = ocrDevice
	}
	cfg.Restart = restart
	cfg.SaveAllCaptchaImages = saveCaptcha
	cfg.PlainOutput = plain

	policy, err := config.LoadPolicy(cfg.PolicyPath, cfg.Policy)
	if err != nil {
		return cfg, err
	}
	cfg.Policy = policy
	return cfg, cfg.Validate()
}

func runRedeem(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "log file disabled: %v\n", err)
	}
	defer logger.Close()

	ui.StartUISystem(cfg.PlainOutput)
	defer ui.StopUISystem()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.New(cfg).Run(ctx)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if code == "" {
		return errors.New("gift code is required")
	}
	cfg := config.Load(envFile)
	store, err := runlog.NewStore(cfg.RunLogPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.RunHistory(code)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No runs recorded for %s\n", code)
		return nil
	}
	for _, r := range runs {
		finished := "running"
		if !r.FinishedAt.IsZero() {
			finished = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Printf("%s  %s  %-9s redeemed=%d already=%d skipped=%d failed=%d (%s)\n",
			r.StartedAt.Local().Format(time.DateTime), r.ID, r.ExitStatus,
			r.Redeemed, r.Already, r.PreExisting, r.Failed, finished)

		attempts, err := store.AttemptsFor(r.ID)
		if err != nil {
			return err
		}
		for _, a := range attempts {
			fmt.Printf("    round %d  %-12s %-14s %s\n", a.Round, a.AccountID, a.State, a.Message)
		}
	}
	return nil
}
