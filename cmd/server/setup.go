package main

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/opsfocus/internal/cfg"
	"github.com/linnemanlabs/opsfocus/internal/llm/claude"
	"github.com/linnemanlabs/opsfocus/internal/postgres"
	"github.com/linnemanlabs/opsfocus/internal/signal"
	"github.com/linnemanlabs/opsfocus/internal/signal/pgsource"
	"github.com/linnemanlabs/opsfocus/internal/signal/seed"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

// loadSignals returns the initial signal list from the configured source and
// a short name for that source. The database is read once and released.
func loadSignals(ctx context.Context, c *vc.Config, now time.Time) ([]signal.Signal, string, error) {
	switch {
	case c.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		sigs, err := pgsource.New(pool).Load(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("import signals: %w", err)
		}
		return sigs, "postgres", nil
	case c.SeedFile != "":
		sigs, err := seed.LoadFile(c.SeedFile, now)
		if err != nil {
			return nil, "", err
		}
		return sigs, "file", nil
	default:
		sigs, err := seed.Default(now)
		if err != nil {
			return nil, "", err
		}
		return sigs, "builtin", nil
	}
}

// newClassifier picks the live classifier when an API key is configured and
// the mock otherwise. The key is read once here and never again.
func newClassifier(c *vc.Config, L log.Logger, hooks triage.Hooks) (triage.Classifier, triage.Origin) {
	if c.ClaudeAPIKey == "" {
		return triage.NewMock(time.Duration(c.MockLatencyMillis)*time.Millisecond, hooks), triage.OriginMock
	}
	provider := claude.New(c.ClaudeAPIKey, c.ClaudeModel)
	timeout := time.Duration(c.TriageTimeoutSeconds) * time.Second
	return triage.NewLive(provider, timeout, L, hooks), triage.OriginLive
}
