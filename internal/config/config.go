package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
)

const (
	OCREngineTesseract = "tesseract"
	OCREngineRemote    = "remote"
)

type Config struct {
	Code                 string
	RosterPath           string
	ResultsPath          string
	Restart              bool
	SaveAllCaptchaImages bool
	PlainOutput          bool

	OCREngine   string
	OCREndpoint string
	OCRDevice   string
	OCRLanguage string

	DiagnosticsDir string
	RunLogPath     string
	LogPath        string
	PolicyPath     string

	Endpoint Endpoint
	Policy   Policy
}

// Load reads the optional env file and builds a Config from the environment.
// Run parameters (code, restart, ...) are filled in by the caller.
func Load(envFiles ...string) Config {
	err := godotenv.Load(envFiles...)
	if err != nil {
		log.Println("No .env file found, using default values")
	}

	endpoint := WhiteoutSurvival
	if v := strings.TrimSpace(os.Getenv("GIFTCODE_API_URL")); v != "" {
		endpoint.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("GIFTCODE_SALT"); v != "" {
		endpoint.Salt = v
	}

	policy := DefaultPolicy()
	policy.HTTPTimeoutSeconds = parseIntWithDefault(os.Getenv("HTTP_TIMEOUT_SECONDS"), policy.HTTPTimeoutSeconds)
	policy.MaxRetries = parseIntWithDefault(os.Getenv("MAX_ACCOUNT_RETRIES"), policy.MaxRetries)
	policy.MaxRounds = parseIntWithDefault(os.Getenv("MAX_ROUNDS"), policy.MaxRounds)

	return Config{
		RosterPath:     "player.json",
		ResultsPath:    "results.json",
		OCREngine:      stringWithDefault(os.Getenv("OCR_ENGINE"), OCREngineTesseract),
		OCREndpoint:    strings.TrimSpace(os.Getenv("OCR_ENDPOINT")),
		OCRDevice:      strings.TrimSpace(os.Getenv("OCR_DEVICE")),
		OCRLanguage:    stringWithDefault(os.Getenv("OCR_LANGUAGE"), "eng"),
		DiagnosticsDir: stringWithDefault(os.Getenv("DIAGNOSTICS_DIR"), "data/captcha"),
		RunLogPath:     stringWithDefault(os.Getenv("RUNLOG_PATH"), "data/redeem.db"),
		LogPath:        stringWithDefault(os.Getenv("LOG_PATH"), "logs/app.log"),
		PolicyPath:     strings.TrimSpace(os.Getenv("POLICY_FILE")),
		Endpoint:       endpoint,
		Policy:         policy,
	}
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func stringWithDefault(value, defaultVal string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	return value
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return errors.New("gift code is required")
	}
	if strings.TrimSpace(c.RosterPath) == "" {
		return errors.New("roster path is required")
	}
	if strings.TrimSpace(c.ResultsPath) == "" {
		return errors.New("results path is required")
	}
	if strings.TrimSpace(c.Endpoint.BaseURL) == "" || c.Endpoint.Salt == "" {
		return errors.New("gift code API url and salt are required")
	}
	switch c.OCREngine {
	case OCREngineTesseract:
	case OCREngineRemote:
		if c.OCREndpoint == "" {
			return errors.New("OCR_ENDPOINT is required for the remote OCR engine")
		}
	default:
		return fmt.Errorf("unknown OCR engine %q (use %s or %s)", c.OCREngine, OCREngineTesseract, OCREngineRemote)
	}
	return c.Policy.Validate()
}

// LoadRoster reads the account roster. Ids are kept as written, only
// surrounding whitespace is trimmed.
func (c Config) LoadRoster() ([]model.Account, error) {
	b, err := os.ReadFile(c.RosterPath)
	if err != nil {
		return nil, err
	}
	return ParseRoster(b)
}

func ParseRoster(b []byte) ([]model.Account, error) {
	var accounts []model.Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster: %w", err)
	}

	seen := make(map[string]int, len(accounts))
	for idx := range accounts {
		id := strings.TrimSpace(accounts[idx].ID)
		if !isDigits(id) {
			return nil, fmt.Errorf("invalid account input: id %q at index %d is not numeric", id, idx)
		}
		accounts[idx].ID = id
		accounts[idx].DisplayName = strings.TrimSpace(accounts[idx].DisplayName)
		if accounts[idx].DisplayName == "" {
			return nil, fmt.Errorf("invalid account input: empty name at index %d", idx)
		}
		if prev, dup := seen[accounts[idx].ID]; dup {
			return nil, fmt.Errorf("invalid account input: id %s duplicated at index %d and %d", accounts[idx].ID, prev, idx)
		}
		seen[accounts[idx].ID] = idx
	}
	return accounts, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
