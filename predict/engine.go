// Package predict back-fills missing canonical attributes on already-
// rendered features using a numerical inference engine behind a
// message-passing boundary. The orchestrator lazily loads the engine,
// batches prediction requests and applies only high-confidence results,
// never overwriting observed data.
package predict

import (
	"context"
	"errors"

	"github.com/rollnav/accesscore/osm"
)

// ErrEngineUnavailable means the engine failed to load or went away.
// Predictions are silently disabled when it surfaces; the rest of the
// system keeps working on raw-tag scoring alone.
var ErrEngineUnavailable = errors.New("predict: inference engine unavailable")

// Input is one feature's attribute set handed to the engine: everything the
// model may draw on, plus the fields we want filled.
type Input struct {
	StableID string            `json:"stable_id" msgpack:"stable_id"`
	Tags     map[string]string `json:"tags" msgpack:"tags"`
	Known    map[string]string `json:"known" msgpack:"known"`
	Missing  []string          `json:"missing" msgpack:"missing"`
}

// FieldPrediction is the engine's answer for one field of one input.
type FieldPrediction struct {
	Field                string            `json:"field" msgpack:"field"`
	Value                string            `json:"value" msgpack:"value"`
	Confidence           float64           `json:"confidence" msgpack:"confidence"`
	Alternatives         []osm.Alternative `json:"alternatives,omitempty" msgpack:"alternatives"`
	ContributingFeatures []string          `json:"contributing_features,omitempty" msgpack:"contributing_features"`
}

// Result carries the predictions for one input. The engine contract is
// order-preserving: result i answers input i, and an input the model can say
// nothing about still yields a Result with no Fields.
type Result struct {
	StableID string            `json:"stable_id" msgpack:"stable_id"`
	Fields   []FieldPrediction `json:"fields" msgpack:"fields"`
}

// Engine is the inference boundary. Implementations must be
// re-initializable after a failed Init.
type Engine interface {
	Init(ctx context.Context) error
	PredictBatch(ctx context.Context, inputs []Input) ([]Result, error)
	Close() error
}
