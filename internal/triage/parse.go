package triage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed wraps every reason a provider response cannot become an Analysis.
var ErrMalformed = errors.New("malformed triage response")

// wireAnalysis is the camelCase shape requested from the model.
type wireAnalysis struct {
	Summary             string   `json:"summary"`
	RootCauseHypothesis string   `json:"rootCauseHypothesis"`
	RecommendedActions  []string `json:"recommendedActions"`
	ITILClassification  string   `json:"itilClassification"`
	ConfidenceScore     *float64 `json:"confidenceScore"`
}

// ParseResponse extracts and validates the analysis from a provider response.
// A call to the analysis tool wins; otherwise the text blocks are read as JSON,
// optionally wrapped in a markdown code fence.
func ParseResponse(resp *LLMResponse) (Analysis, error) {
	if resp == nil {
		return Analysis{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}

	var payload []byte
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == AnalysisTool && payload == nil {
				payload = block.Input
			}
		case "text":
			text.WriteString(block.Text)
		}
	}
	if payload == nil {
		payload = []byte(stripCodeFence(text.String()))
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return Analysis{}, fmt.Errorf("%w: no content", ErrMalformed)
	}

	var w wireAnalysis
	if err := json.Unmarshal(payload, &w); err != nil {
		return Analysis{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return w.toAnalysis()
}

func (w *wireAnalysis) toAnalysis() (Analysis, error) {
	var errs []error

	summary := strings.TrimSpace(w.Summary)
	if summary == "" {
		errs = append(errs, errors.New("summary is required"))
	}

	actions := make([]string, 0, len(w.RecommendedActions))
	for _, a := range w.RecommendedActions {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}
	if len(actions) == 0 {
		errs = append(errs, errors.New("recommendedActions must be non-empty"))
	}

	class := ITIL(w.ITILClassification)
	if !class.Valid() {
		errs = append(errs, fmt.Errorf("invalid itilClassification %q", w.ITILClassification))
	}

	var confidence float64
	if w.ConfidenceScore != nil {
		confidence = *w.ConfidenceScore
		if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
			errs = append(errs, fmt.Errorf("confidenceScore %v out of range [0,1]", confidence))
		}
	}

	if len(errs) > 0 {
		return Analysis{}, fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
	}

	rootCause := strings.TrimSpace(w.RootCauseHypothesis)
	if rootCause == "" {
		rootCause = FallbackRootCause
	}

	return Analysis{
		Summary:             summary,
		RootCauseHypothesis: rootCause,
		RecommendedActions:  actions,
		ITILClassification:  class,
		ConfidenceScore:     confidence,
		Origin:              OriginLive,
	}, nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
