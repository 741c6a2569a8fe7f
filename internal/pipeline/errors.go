// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdiddy/advisor-engine/internal/model"
	"github.com/pdiddy/advisor-engine/pkg/types"
)

// Kind classifies a stage failure for propagation and metrics.
// Per prd004-pipeline R4.1.
type Kind string

const (
	// KindRetrieval marks a knowledge-base failure that could not be
	// absorbed as missing evidence.
	KindRetrieval Kind = "retrieval"

	// KindModel marks a model invocation that failed after retries.
	KindModel Kind = "model"

	// KindSchema marks a structured output that failed strict parsing.
	KindSchema Kind = "schema"

	// KindCanceled marks a stage cut short by context cancellation.
	KindCanceled Kind = "canceled"
)

// StageError is a classified failure of one pipeline stage. The planner
// and writer stages are fatal to the turn; research stages are absorbed
// into the step's summary instead and never surface as a StageError.
type StageError struct {
	Stage types.Stage
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s failure: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// classify maps an underlying error onto the failure taxonomy.
func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, model.ErrBadSchema):
		return KindSchema
	default:
		return KindModel
	}
}

// stageError wraps err as a StageError for the given stage.
func stageError(stage types.Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: classify(err), Err: err}
}
