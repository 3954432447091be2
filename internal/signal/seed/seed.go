// Package seed loads the initial signal list from YAML.
package seed

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

//go:embed mock_signals.yaml
var mockSignals []byte

type document struct {
	Signals []record `yaml:"signals"`
}

// record is a signal as written in a seed file. Exactly one of Timestamp or
// Age must be set; Age is measured back from the load time.
type record struct {
	signal.Signal `yaml:",inline"`
	Age           time.Duration `yaml:"age"`
}

// Default returns the embedded sample feed with timestamps anchored at now.
func Default(now time.Time) ([]signal.Signal, error) {
	return Load(bytes.NewReader(mockSignals), now)
}

// LoadFile reads a seed file from disk.
func LoadFile(path string, now time.Time) ([]signal.Signal, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied seed path
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	out, err := Load(f, now)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return out, nil
}

// Load decodes a seed document. Unknown keys are rejected and every signal is validated.
func Load(r io.Reader, now time.Time) ([]signal.Signal, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []signal.Signal{}, nil
		}
		return nil, fmt.Errorf("decode seed: %w", err)
	}

	out := make([]signal.Signal, 0, len(doc.Signals))
	seen := make(map[string]struct{}, len(doc.Signals))
	for i, rec := range doc.Signals {
		sig := rec.Signal
		switch {
		case !sig.Timestamp.IsZero() && rec.Age != 0:
			return nil, fmt.Errorf("signal %d (%q): set timestamp or age, not both", i, sig.ID)
		case rec.Age < 0:
			return nil, fmt.Errorf("signal %d (%q): negative age %s", i, sig.ID, rec.Age)
		case sig.Timestamp.IsZero():
			sig.Timestamp = now.Add(-rec.Age).UTC()
		}
		if sig.Tags == nil {
			sig.Tags = []string{}
		}
		if err := sig.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[sig.ID]; dup {
			return nil, fmt.Errorf("duplicate signal id %q", sig.ID)
		}
		seen[sig.ID] = struct{}{}
		out = append(out, sig)
	}
	return out, nil
}
