// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package model invokes generative AI backends behind a narrow interface.
// Implements: prd006-models (R1, R2, R3);
//
//	docs/ARCHITECTURE § Model invocation.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrBadSchema wraps structured-output decode failures so callers can
// tell them apart from transport errors (R3.4).
var ErrBadSchema = errors.New("model: response does not match expected schema")

// ErrEmptyResponse reports a backend reply with no usable candidates.
var ErrEmptyResponse = errors.New("model: empty response from backend")

// ErrClosed reports an Invoke against a closed client.
var ErrClosed = errors.New("model: client is closed")

// Request describes a single model invocation.
type Request struct {
	// Model is the backend model identifier, e.g. "gemini-2.5-pro".
	Model string
	// System carries the role instructions prepended to the input.
	System string
	// Input is the prompt body for this call.
	Input string
	// ForceJSON asks the backend for an application/json response.
	ForceJSON bool
}

// Response holds the text returned by one invocation.
type Response struct {
	Text string
}

// Invoker is the model capability agents depend on. Implementations must
// be safe for concurrent use. Per Strategy pattern (prd006-models R1.2).
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
	Close() error
}

// DecodeJSON parses the response text into v. Surrounding Markdown code
// fences are stripped first; trailing data after the JSON value is an
// error so partially structured replies never pass as valid (R3.2).
func (r Response) DecodeJSON(v any) error {
	text := stripCodeFence(strings.TrimSpace(r.Text))
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSchema, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after JSON value", ErrBadSchema)
	}
	return nil
}

// stripCodeFence removes a surrounding ``` or ```json fence if present.
// Models sometimes wrap JSON output in a fence despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
