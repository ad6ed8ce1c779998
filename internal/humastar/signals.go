package humastar

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
)

// EmptyInput is the input of operations without parameters.
type EmptyInput struct{}

// SignalsInput receives the Datastar signals object as the raw request body.
type SignalsInput struct {
	RawBody []byte
}

// Bind decodes the signals into T. Signals missing from the body keep their
// zero value, so pointer fields tell "not sent" apart from "false".
func Bind[T any](input *SignalsInput) (T, error) {
	var v T
	if len(input.RawBody) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(input.RawBody, &v); err != nil {
		return v, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return v, nil
}
