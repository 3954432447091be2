package signal

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Source is the system a signal originated from.
type Source string

const (
	SourceOutlook    Source = "Outlook"
	SourceTeams      Source = "Teams"
	SourceGLPI       Source = "GLPI"
	SourceSharePoint Source = "SharePoint"
	SourceSystem     Source = "System"
)

// Sources lists every known source in display order.
var Sources = []Source{SourceOutlook, SourceTeams, SourceGLPI, SourceSharePoint, SourceSystem}

// Valid reports whether s is a known source.
func (s Source) Valid() bool { return slices.Contains(Sources, s) }

// Severity is the normalized severity of a signal. P1 is the most critical.
type Severity string

const (
	// SeverityP1 is critical
	SeverityP1 Severity = "P1"
	// SeverityP2 is high
	SeverityP2 Severity = "P2"
	// SeverityP3 is moderate
	SeverityP3 Severity = "P3"
	// SeverityP4 is low
	SeverityP4 Severity = "P4"
	// SeverityP5 is informational
	SeverityP5 Severity = "P5"
)

// Severities lists every severity from most to least critical.
var Severities = []Severity{SeverityP1, SeverityP2, SeverityP3, SeverityP4, SeverityP5}

// Rank returns 1 for P1 through 5 for P5, and 0 for an unknown severity.
func (s Severity) Rank() int {
	return slices.Index(Severities, s) + 1
}

// Valid reports whether s is one of the five defined levels.
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Status is the operator-managed lifecycle state of a signal.
type Status string

const (
	StatusOpen       Status = "Open"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
	StatusSuppressed Status = "Suppressed"
)

// Statuses lists every status.
var Statuses = []Status{StatusOpen, StatusInProgress, StatusResolved, StatusSuppressed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// Active reports whether the signal still needs attention.
func (s Status) Active() bool { return s == StatusOpen || s == StatusInProgress }

// SuppressFor is how long "Suppress 24h" hides a signal. Informational only,
// nothing reopens a signal when it elapses.
const SuppressFor = 24 * time.Hour

// SecurityTag is the tag that keeps a signal visible in deep focus regardless of severity.
const SecurityTag = "Security"

// Signal is a normalized unit of operational noise from one of the sources.
type Signal struct {
	ID                 string     `json:"id" yaml:"id"`
	Source             Source     `json:"source" yaml:"source"`
	Timestamp          time.Time  `json:"timestamp" yaml:"timestamp"`
	Subject            string     `json:"subject" yaml:"subject"`
	Body               string     `json:"body" yaml:"body"`
	RawSeverity        string     `json:"raw_severity" yaml:"raw_severity"`
	CalculatedSeverity Severity   `json:"calculated_severity" yaml:"calculated_severity"`
	IsRead             bool       `json:"is_read" yaml:"is_read"`
	Status             Status     `json:"status" yaml:"status"`
	Tags               []string   `json:"tags" yaml:"tags"`
	SuppressedUntil    *time.Time `json:"suppressed_until,omitempty" yaml:"-"`
}

// HasTag reports whether the signal carries tag. Matching is exact.
func (s *Signal) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// Clone returns a deep copy so callers never share tag slices or pointers with a store.
func (s *Signal) Clone() Signal {
	cp := *s
	cp.Tags = slices.Clone(s.Tags)
	if s.SuppressedUntil != nil {
		t := *s.SuppressedUntil
		cp.SuppressedUntil = &t
	}
	return cp
}

// Validate checks the enumerated fields and the id.
func (s *Signal) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if !s.Source.Valid() {
		errs = append(errs, fmt.Errorf("invalid source %q", s.Source))
	}
	if !s.CalculatedSeverity.Valid() {
		errs = append(errs, fmt.Errorf("invalid calculated severity %q (must be P1..P5)", s.CalculatedSeverity))
	}
	if !s.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", s.Status))
	}
	if s.Timestamp.IsZero() {
		errs = append(errs, errors.New("timestamp is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("signal %q: %w", s.ID, errors.Join(errs...))
	}
	return nil
}

// FocusMode is the operator-selected filtering policy for the visible list.
type FocusMode string

const (
	FocusOff       FocusMode = "Off"
	FocusNormal    FocusMode = "Normal"
	FocusDeepFocus FocusMode = "DeepFocus"
)

// FocusModes lists the modes in the order the focus control shows them.
var FocusModes = []FocusMode{FocusOff, FocusNormal, FocusDeepFocus}

// Valid reports whether m is a known focus mode.
func (m FocusMode) Valid() bool { return slices.Contains(FocusModes, m) }

// ParseFocusMode converts a user-supplied value into a FocusMode.
func ParseFocusMode(s string) (FocusMode, error) {
	m := FocusMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid focus mode %q (must be Off, Normal or DeepFocus)", s)
	}
	return m, nil
}
