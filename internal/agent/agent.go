// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package agent implements the planner, researcher, and writer roles on
// top of the model invocation layer, plus the bounded tool loop that
// drives them.
// Implements: prd003-agents (R1-R6);
//
//	docs/ARCHITECTURE § Agents.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// ErrMaxRounds reports that an agent loop hit its round budget without
// producing a final answer.
var ErrMaxRounds = errors.New("agent: max loop rounds reached")

// Tool is a callable capability an agent can invoke from its loop. An
// agent exposed to another agent is wrapped in this interface; dispatch
// is a map lookup, no reflection. Per prd003-agents R1.1.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

// EmitFunc receives transcript messages as an agent works. A nil
// EmitFunc drops them.
type EmitFunc func(types.Message)

// emitterKey carries the per-turn transcript emitter through the context,
// so process-lifetime agents can report into whichever turn invoked them.
type emitterKey struct{}

// WithEmitter returns a context carrying fn as the transcript emitter.
func WithEmitter(ctx context.Context, fn EmitFunc) context.Context {
	return context.WithValue(ctx, emitterKey{}, fn)
}

// EmitterFrom extracts the transcript emitter from ctx, or nil.
func EmitterFrom(ctx context.Context) EmitFunc {
	if fn, ok := ctx.Value(emitterKey{}).(EmitFunc); ok {
		return fn
	}
	return nil
}

// emit appends one assistant message to the turn transcript, if any.
func emit(ctx context.Context, stage types.Stage, content string) {
	fn := EmitterFrom(ctx)
	if fn == nil || content == "" {
		return
	}
	fn(types.Message{Role: types.RoleAssistant, Stage: stage, Content: content})
}

// action is the JSON envelope every loop round must produce: either a
// tool call or a final answer (R1.2).
type action struct {
	Action string          `json:"action"`
	Tool   string          `json:"tool,omitempty"`
	Input  string          `json:"input,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

// loopConfig bounds one agent loop run.
type loopConfig struct {
	Invoker   model.Invoker
	Model     string
	System    string
	MaxRounds int
	Stage     types.Stage
	Tools     []Tool
}

// runLoop drives the iterate-act loop. Each round the model must reply
// with one action object; tool observations append to the working input
// and the loop re-invokes until a final action or the round budget.
// Malformed actions and unknown tool names feed an error observation
// back once; a second offense fails the loop (R1.3, R1.4).
func runLoop(ctx context.Context, cfg loopConfig, input string) (json.RawMessage, error) {
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 8
	}

	tools := make(map[string]Tool, len(cfg.Tools))
	for _, tool := range cfg.Tools {
		tools[tool.Name()] = tool
	}

	working := input
	recovered := false

	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := cfg.Invoker.Invoke(ctx, model.Request{
			Model:     cfg.Model,
			System:    cfg.System,
			Input:     working,
			ForceJSON: true,
		})
		if err != nil {
			return nil, err
		}

		var act action
		if err := resp.DecodeJSON(&act); err != nil {
			if recovered {
				return nil, err
			}
			recovered = true
			working += "\n\nYour previous reply was not a valid action object. " + actionReminder
			continue
		}

		switch act.Action {
		case "final":
			return act.Answer, nil

		case "tool":
			tool, ok := tools[act.Tool]
			if !ok {
				if recovered {
					return nil, fmt.Errorf("%w: unknown tool %q", model.ErrBadSchema, act.Tool)
				}
				recovered = true
				working += fmt.Sprintf("\n\nThere is no tool named %q. Available tools: %s. %s",
					act.Tool, strings.Join(toolNames(cfg.Tools), ", "), actionReminder)
				continue
			}

			emit(ctx, cfg.Stage, fmt.Sprintf("calling %s: %s", tool.Name(), act.Input))
			out, err := tool.Invoke(ctx, act.Input)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				// Tool failures become observations; the model decides
				// how to proceed within the remaining rounds.
				out = fmt.Sprintf("tool %s failed: %v", tool.Name(), err)
			}
			emit(ctx, cfg.Stage, fmt.Sprintf("%s returned: %s", tool.Name(), clipObservation(out)))
			working += fmt.Sprintf("\n\nObservation from %s:\n%s", tool.Name(), out)

		default:
			if recovered {
				return nil, fmt.Errorf("%w: invalid action %q", model.ErrBadSchema, act.Action)
			}
			recovered = true
			working += fmt.Sprintf("\n\nAction %q is not recognized. %s", act.Action, actionReminder)
		}
	}
	return nil, ErrMaxRounds
}

// actionReminder restates the loop protocol for recovery observations.
const actionReminder = `Reply with exactly one JSON object: {"action":"tool","tool":"<name>","input":"<text>"} or {"action":"final","answer":...}.`

// maxObservationRunes bounds tool output echoed into the transcript.
const maxObservationRunes = 200

func clipObservation(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxObservationRunes {
		return s
	}
	return string([]rune(s)[:maxObservationRunes]) + "..."
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name()
	}
	return names
}

// decodeAnswerText extracts a plain-text final answer, accepting either a
// JSON string or an object with an "answer"/"summary" field.
func decodeAnswerText(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj struct {
		Answer  string `json:"answer"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("%w: final answer is neither text nor an answer object", model.ErrBadSchema)
	}
	if obj.Answer != "" {
		return obj.Answer, nil
	}
	if obj.Summary != "" {
		return obj.Summary, nil
	}
	return "", fmt.Errorf("%w: final answer is empty", model.ErrBadSchema)
}
