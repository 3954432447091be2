package claude

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/opsfocus/internal/signal"
	"github.com/linnemanlabs/opsfocus/internal/triage"
)

func TestToSDKMessages_TextBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role:    "user",
		Content: []triage.ContentBlock{{Type: "text", Text: "hello"}},
	}}

	result := toSDKMessages(msgs)

	if len(result) != 1 {
		t.Fatalf("len = %d, want 1", len(result))
	}
	if result[0].Role != "user" {
		t.Errorf("role = %q, want %q", result[0].Role, "user")
	}
	if len(result[0].Content) != 1 || result[0].Content[0].OfText == nil {
		t.Fatal("expected one text block")
	}
	if result[0].Content[0].OfText.Text != "hello" {
		t.Errorf("text = %q, want %q", result[0].Content[0].OfText.Text, "hello")
	}
}

func TestToSDKMessages_ToolUseBlock(t *testing.T) {
	t.Parallel()

	msgs := []triage.Message{{
		Role: "assistant",
		Content: []triage.ContentBlock{
			{Type: "text", Text: "recording"},
			{Type: "tool_use", ID: "tu-1", Name: triage.AnalysisTool, Input: json.RawMessage(`{"summary":"s"}`)},
		},
	}}

	result := toSDKMessages(msgs)

	if len(result[0].Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(result[0].Content))
	}
	block := result[0].Content[1]
	if block.OfToolUse == nil {
		t.Fatal("expected OfToolUse to be set")
	}
	if block.OfToolUse.ID != "tu-1" || block.OfToolUse.Name != triage.AnalysisTool {
		t.Errorf("tool use = %+v", block.OfToolUse)
	}
}

func TestToSDKTools(t *testing.T) {
	t.Parallel()

	defs := []triage.ToolDef{{
		Name:        "test_tool",
		Description: "a test tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	}}

	result, err := toSDKTools(defs)
	if err != nil {
		t.Fatalf("toSDKTools: %v", err)
	}

	if len(result) != 1 || result[0].OfTool == nil {
		t.Fatal("expected one OfTool")
	}
	tool := result[0].OfTool
	if tool.Name != "test_tool" {
		t.Errorf("name = %q, want %q", tool.Name, "test_tool")
	}
	if !tool.Description.Valid() || tool.Description.Value != "a test tool" {
		t.Errorf("description = %v, want %q", tool.Description, "a test tool")
	}
	if len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v", tool.InputSchema.Required)
	}
	props, ok := tool.InputSchema.Properties.(map[string]any)
	if !ok || props["query"] == nil {
		t.Errorf("properties = %#v", tool.InputSchema.Properties)
	}
}

func TestFromSDKResponse(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Model: "claude-test",
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "thinking out loud"},
			{Type: "tool_use", ID: "tu-99", Name: triage.AnalysisTool, Input: json.RawMessage(`{"summary":"s"}`)},
		},
		StopReason: anthropic.StopReasonToolUse,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if len(result.Content) != 2 {
		t.Fatalf("content len = %d, want 2", len(result.Content))
	}
	if result.Content[0].Type != "text" || result.Content[0].Text != "thinking out loud" {
		t.Errorf("content[0] = %+v", result.Content[0])
	}
	if result.Content[1].Type != "tool_use" || result.Content[1].ID != "tu-99" || string(result.Content[1].Input) != `{"summary":"s"}` {
		t.Errorf("content[1] = %+v", result.Content[1])
	}
	if result.StopReason != triage.StopToolUse {
		t.Errorf("stop reason = %q", result.StopReason)
	}
	if result.Usage.InputTokens != 1234 || result.Usage.OutputTokens != 567 {
		t.Errorf("usage = %+v", result.Usage)
	}
	if result.Model != "claude-test" {
		t.Errorf("model = %q", result.Model)
	}
}

func TestFromSDKResponse_StopReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		sdk      anthropic.StopReason
		expected triage.StopReason
	}{
		{"end_turn", anthropic.StopReasonEndTurn, triage.StopEnd},
		{"tool_use", anthropic.StopReasonToolUse, triage.StopToolUse},
		{"max_tokens", anthropic.StopReasonMaxTokens, triage.StopMaxTokens},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			result := fromSDKResponse(&anthropic.Message{StopReason: tt.sdk})
			if result.StopReason != tt.expected {
				t.Errorf("stop reason = %q, want %q", result.StopReason, tt.expected)
			}
		})
	}
}

const fakeMessage = `{
  "id": "msg_01",
  "type": "message",
  "role": "assistant",
  "model": "claude-test",
  "content": [{
    "type": "tool_use",
    "id": "toolu_01",
    "name": "record_triage_analysis",
    "input": {
      "summary": "Brute force attempt against svc_backup.",
      "rootCauseHypothesis": "Credential stuffing from an internal host.",
      "recommendedActions": ["Block 192.168.1.105", "Rotate svc_backup credentials", "Open a security incident"],
      "itilClassification": "Security",
      "confidenceScore": 0.81
    }
  }],
  "stop_reason": "tool_use",
  "stop_sequence": null,
  "usage": {"input_tokens": 321, "output_tokens": 87}
}`

// fakeAPI serves the Messages endpoint and captures the last request body.
func fakeAPI(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value, *atomic.Int32) {
	t.Helper()
	var last atomic.Value
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			http.NotFound(w, r)
			return
		}
		b, _ := io.ReadAll(r.Body)
		last.Store(string(b))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &last, &calls
}

func TestClient_SendForcesAnalysisTool(t *testing.T) {
	t.Parallel()

	srv, last, _ := fakeAPI(t, http.StatusOK, fakeMessage)
	c := New("test-key", "claude-test", option.WithBaseURL(srv.URL))

	sig := &signal.Signal{ID: "sig-005", Source: signal.SourceTeams, Subject: "Security Alert: Multiple Failed Logins"}
	got := triage.NewLive(c, 0, log.Nop(), triage.Hooks{}).Analyze(context.Background(), sig)

	if got.Origin != triage.OriginLive || got.ITILClassification != triage.ITILSecurity || got.ConfidenceScore != 0.81 {
		t.Errorf("analysis = %+v", got)
	}

	var req map[string]any
	raw, _ := last.Load().(string)
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("request body: %v", err)
	}
	if req["model"] != "claude-test" {
		t.Errorf("model = %v", req["model"])
	}
	choice, _ := req["tool_choice"].(map[string]any)
	if choice["type"] != "tool" || choice["name"] != triage.AnalysisTool {
		t.Errorf("tool_choice = %v", req["tool_choice"])
	}
	if !strings.Contains(raw, "Security Alert: Multiple Failed Logins") {
		t.Error("request does not carry the signal subject")
	}
}

func TestClient_ServerErrorIsSingleAttempt(t *testing.T) {
	t.Parallel()

	srv, _, calls := fakeAPI(t, http.StatusInternalServerError,
		`{"type":"error","error":{"type":"api_error","message":"overloaded"}}`)
	c := New("test-key", "", option.WithBaseURL(srv.URL))

	if c.Model() != DefaultModel {
		t.Errorf("Model = %q, want %q", c.Model(), DefaultModel)
	}

	_, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 16,
		Messages:  []triage.Message{{Role: "user", Content: []triage.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1 (retries disabled)", n)
	}
}

func TestClient_MalformedToolSchemaNotSent(t *testing.T) {
	t.Parallel()

	srv, _, calls := fakeAPI(t, http.StatusOK, fakeMessage)
	c := New("test-key", "claude-test", option.WithBaseURL(srv.URL))

	_, err := c.Send(context.Background(), &triage.LLMRequest{
		MaxTokens: 16,
		Messages:  []triage.Message{{Role: "user", Content: []triage.ContentBlock{{Type: "text", Text: "hi"}}}},
		Tools: []triage.ToolDef{{
			Name:        "broken_tool",
			InputSchema: json.RawMessage(`{"type":"object","properties":`),
		}},
		ToolChoice: "broken_tool",
	})
	if err == nil {
		t.Fatal("expected error for malformed tool schema")
	}
	if !strings.Contains(err.Error(), "broken_tool") {
		t.Errorf("error = %q, want tool name", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("calls = %d, want 0 (request must not be sent)", n)
	}
}
