package triage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/opsfocus/internal/signal"
)

const (
	// ResponseTokens caps the model output for one analysis.
	ResponseTokens = 1024

	// AnalysisTool is the tool the model is forced to call with its analysis.
	AnalysisTool = "record_triage_analysis"
)

const systemPrompt = `You are "Ops Focus Copilot".
Your mission is to analyze operational signals (logs, chats, tickets) and provide ITIL-compliant advice.
Output must be structured JSON.
Prioritize clarity and actionability.`

// analysisSchema is the TriageAnalysis shape the model must fill in.
var analysisSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string", "description": "Concise summary, at most 2 sentences."},
    "rootCauseHypothesis": {"type": "string", "description": "Most likely root cause."},
    "recommendedActions": {"type": "array", "items": {"type": "string"}, "description": "Exactly 3 specific ITIL-aligned actions in priority order."},
    "itilClassification": {"type": "string", "enum": ["Incident", "Problem", "Change", "Request", "Security"]},
    "confidenceScore": {"type": "number", "minimum": 0, "maximum": 1}
  },
  "required": ["summary", "recommendedActions", "itilClassification"]
}`)

func analysisToolDef() ToolDef {
	return ToolDef{
		Name:        AnalysisTool,
		Description: "Record the triage analysis of an operational signal.",
		InputSchema: analysisSchema,
	}
}

// buildPrompt renders the user message carrying the signal fields.
func buildPrompt(sig *signal.Signal) string {
	var b strings.Builder
	b.WriteString("Analyze this operational signal:\n")
	fmt.Fprintf(&b, "Subject: %s\n", sig.Subject)
	fmt.Fprintf(&b, "Body: %s\n", sig.Body)
	fmt.Fprintf(&b, "Source: %s\n", sig.Source)
	b.WriteString("Context: This signal was received in an IT Operations environment.\n\n")
	b.WriteString("Provide a JSON response with:\n")
	b.WriteString("1. A concise summary (max 2 sentences).\n")
	b.WriteString("2. A hypothesis for the root cause.\n")
	b.WriteString("3. 3 specific recommended actions (ITIL aligned).\n")
	b.WriteString("4. Classification (Incident, Problem, Change, Request, Security).\n")
	b.WriteString("5. Confidence score (0.0 to 1.0).\n")
	fmt.Fprintf(&b, "\nRecord the result by calling the %s tool.", AnalysisTool)
	return b.String()
}

func buildRequest(sig *signal.Signal) *LLMRequest {
	return &LLMRequest{
		MaxTokens: ResponseTokens,
		System:    systemPrompt,
		Messages: []Message{{
			Role:    "user",
			Content: []ContentBlock{{Type: "text", Text: buildPrompt(sig)}},
		}},
		Tools:      []ToolDef{analysisToolDef()},
		ToolChoice: AnalysisTool,
	}
}
