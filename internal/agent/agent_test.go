// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// scriptedInvoker replays canned responses in order and records requests.
type scriptedInvoker struct {
	responses []string
	errs      []error // optional per-call forced error, parallel to responses
	calls     []model.Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req model.Request) (model.Response, error) {
	i := len(s.calls)
	s.calls = append(s.calls, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return model.Response{}, s.errs[i]
	}
	if i >= len(s.responses) {
		return model.Response{}, errors.New("scripted invoker: out of responses")
	}
	return model.Response{Text: s.responses[i]}, nil
}

func (s *scriptedInvoker) Close() error { return nil }

// echoTool returns its input uppercased, or a forced error.
type echoTool struct {
	err   error
	calls []string
}

func (e *echoTool) Name() string        { return "echo" }
func (e *echoTool) Description() string { return "Echoes the input back." }

func (e *echoTool) Invoke(_ context.Context, input string) (string, error) {
	e.calls = append(e.calls, input)
	if e.err != nil {
		return "", e.err
	}
	return "ECHO: " + input, nil
}

// collectMessages returns a context-bound emitter and the sink it fills.
func collectMessages(ctx context.Context) (context.Context, *[]types.Message) {
	var msgs []types.Message
	return WithEmitter(ctx, func(m types.Message) { msgs = append(msgs, m) }), &msgs
}

func TestRunLoopFinal(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{`{"action":"final","answer":"done"}`}}

	raw, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m"}, "input")
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	text, err := decodeAnswerText(raw)
	if err != nil {
		t.Fatalf("decodeAnswerText: %v", err)
	}
	if text != "done" {
		t.Errorf("answer = %q, want %q", text, "done")
	}
	if len(inv.calls) != 1 {
		t.Errorf("model calls = %d, want 1", len(inv.calls))
	}
	if !inv.calls[0].ForceJSON {
		t.Error("loop requests must force JSON responses")
	}
}

func TestRunLoopToolThenFinal(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"echo","input":"hi"}`,
		`{"action":"final","answer":"ok"}`,
	}}
	tool := &echoTool{}
	ctx, msgs := collectMessages(context.Background())

	_, err := runLoop(ctx, loopConfig{
		Invoker: inv,
		Model:   "m",
		Stage:   types.StageResearch,
		Tools:   []Tool{tool},
	}, "input")
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if len(tool.calls) != 1 || tool.calls[0] != "hi" {
		t.Errorf("tool calls = %v, want [hi]", tool.calls)
	}
	if !strings.Contains(inv.calls[1].Input, "Observation from echo:\nECHO: hi") {
		t.Error("second round should carry the tool observation")
	}

	if len(*msgs) != 2 {
		t.Fatalf("transcript messages = %d, want 2", len(*msgs))
	}
	for _, m := range *msgs {
		if m.Role != types.RoleAssistant || m.Stage != types.StageResearch {
			t.Errorf("message tagged %s/%s, want assistant/research", m.Role, m.Stage)
		}
	}
	if !strings.Contains((*msgs)[0].Content, "calling echo: hi") {
		t.Errorf("first message = %q", (*msgs)[0].Content)
	}
}

func TestRunLoopToolFailureObservation(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"echo","input":"hi"}`,
		`{"action":"final","answer":"ok"}`,
	}}
	tool := &echoTool{err: errors.New("backend down")}

	_, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m", Tools: []Tool{tool}}, "input")
	if err != nil {
		t.Fatalf("tool failures must become observations, got %v", err)
	}
	if !strings.Contains(inv.calls[1].Input, "tool echo failed: backend down") {
		t.Error("failure observation missing from next round")
	}
}

func TestRunLoopUnknownToolRecovery(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"nope","input":"x"}`,
		`{"action":"final","answer":"ok"}`,
	}}

	_, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m", Tools: []Tool{&echoTool{}}}, "input")
	if err != nil {
		t.Fatalf("one unknown tool should recover, got %v", err)
	}
	if !strings.Contains(inv.calls[1].Input, `no tool named "nope"`) {
		t.Error("recovery observation missing")
	}
}

func TestRunLoopMalformedRecovery(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`this is not an action`,
		`{"action":"final","answer":"ok"}`,
	}}

	raw, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m"}, "input")
	if err != nil {
		t.Fatalf("one malformed reply should recover, got %v", err)
	}
	if text, _ := decodeAnswerText(raw); text != "ok" {
		t.Errorf("answer = %q", text)
	}
}

func TestRunLoopMalformedTwice(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{`garbage`, `garbage`}}

	_, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m"}, "input")
	if !errors.Is(err, model.ErrBadSchema) {
		t.Fatalf("expected ErrBadSchema after second malformed reply, got %v", err)
	}
}

func TestRunLoopMaxRounds(t *testing.T) {
	inv := &scriptedInvoker{responses: []string{
		`{"action":"tool","tool":"echo","input":"1"}`,
		`{"action":"tool","tool":"echo","input":"2"}`,
		`{"action":"tool","tool":"echo","input":"3"}`,
	}}

	_, err := runLoop(context.Background(), loopConfig{
		Invoker:   inv,
		Model:     "m",
		MaxRounds: 3,
		Tools:     []Tool{&echoTool{}},
	}, "input")
	if !errors.Is(err, ErrMaxRounds) {
		t.Fatalf("expected ErrMaxRounds, got %v", err)
	}
}

func TestRunLoopInvokerError(t *testing.T) {
	wantErr := errors.New("model down")
	inv := &scriptedInvoker{responses: []string{""}, errs: []error{wantErr}}

	_, err := runLoop(context.Background(), loopConfig{Invoker: inv, Model: "m"}, "input")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected invoker error, got %v", err)
	}
}

func TestRunLoopCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &scriptedInvoker{responses: []string{`{"action":"final","answer":"ok"}`}}
	_, err := runLoop(ctx, loopConfig{Invoker: inv, Model: "m"}, "input")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(inv.calls) != 0 {
		t.Errorf("model calls = %d, want 0", len(inv.calls))
	}
}

func TestDecodeAnswerText(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"json string", `"plain text"`, "plain text", false},
		{"answer object", `{"answer":"from answer"}`, "from answer", false},
		{"summary object", `{"summary":"from summary"}`, "from summary", false},
		{"empty object", `{}`, "", true},
		{"array", `[1,2]`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAnswerText([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, model.ErrBadSchema) {
					t.Fatalf("expected ErrBadSchema, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmitterFrom(t *testing.T) {
	if EmitterFrom(context.Background()) != nil {
		t.Error("bare context should have no emitter")
	}

	var got []types.Message
	ctx := WithEmitter(context.Background(), func(m types.Message) { got = append(got, m) })
	emit(ctx, types.StagePlan, "planned")
	emit(ctx, types.StagePlan, "") // dropped

	if len(got) != 1 || got[0].Content != "planned" {
		t.Errorf("messages = %+v", got)
	}
}

func TestClipObservation(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := clipObservation(long)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("long observation should be clipped, got %q", got[len(got)-10:])
	}
	if clipObservation("short  text") != "short text" {
		t.Error("whitespace should collapse")
	}
}
