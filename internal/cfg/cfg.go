package cfg

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/linnemanlabs/opsfocus/internal/digest"
)

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	ClaudeAPIKey          string
	ClaudeModel           string
	TriageTimeoutSeconds  int
	MockLatencyMillis     int
	SeedFile              string
	DatabaseURL           string
	SlackWebhookURL       string
	DigestSchedule        string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude triage classifier (empty = mock analysis)")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-5", "Claude model to use")
	fs.IntVar(&c.TriageTimeoutSeconds, "triage-timeout-seconds", 30, "per-request triage timeout (1..600)")
	fs.IntVar(&c.MockLatencyMillis, "mock-latency-ms", 1500, "simulated latency of the mock classifier (1..60000)")
	fs.StringVar(&c.SeedFile, "seed-file", "", "YAML file with the initial signal list (empty = built-in sample feed)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL URL to import the initial signal list from")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for escalations and digests")
	fs.StringVar(&c.DigestSchedule, "digest-schedule", "", "5-field cron schedule for the Slack digest (empty = disabled)")
}

// DigestEnabled reports whether a digest schedule is set. Blank counts as unset.
func (c *Config) DigestEnabled() bool {
	return strings.TrimSpace(c.DigestSchedule) != ""
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	// Model only matters for the live classifier
	if c.ClaudeAPIKey != "" && c.ClaudeModel == "" {
		errs = append(errs, errors.New("CLAUDE_MODEL is required when CLAUDE_API_KEY is set"))
	}

	if c.TriageTimeoutSeconds <= 0 || c.TriageTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid TRIAGE_TIMEOUT_SECONDS %d (must be 1..600)", c.TriageTimeoutSeconds))
	}
	if c.MockLatencyMillis <= 0 || c.MockLatencyMillis > 60000 {
		errs = append(errs, fmt.Errorf("invalid MOCK_LATENCY_MS %d (must be 1..60000)", c.MockLatencyMillis))
	}

	// One seed source at most
	if c.SeedFile != "" && c.DatabaseURL != "" {
		errs = append(errs, errors.New("SEED_FILE and DATABASE_URL are mutually exclusive"))
	}

	if c.DigestEnabled() {
		if _, err := digest.ParseSchedule(c.DigestSchedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid DIGEST_SCHEDULE: %w", err))
		}
		if c.SlackWebhookURL == "" {
			errs = append(errs, errors.New("DIGEST_SCHEDULE requires SLACK_WEBHOOK_URL"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
