package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/thatsimonsguy/signal-controller/internal/model"
)

var ErrMalformedCommand = errors.New("malformed command")

type CommandRequest struct {
	Target *string `json:"target"`
	Action *string `json:"action"`
}

// Decode parses a command body. Unknown fields are ignored; target and action are
// required and must match one of the enumerated values exactly.
func Decode(raw []byte) (model.Command, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	var req CommandRequest
	if err := dec.Decode(&req); err != nil {
		return model.Command{}, fmt.Errorf("%w: invalid JSON payload: %v", ErrMalformedCommand, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return model.Command{}, fmt.Errorf("%w: unexpected data after JSON object", ErrMalformedCommand)
	}

	if req.Target == nil {
		return model.Command{}, fmt.Errorf("%w: missing field \"target\"", ErrMalformedCommand)
	}
	if req.Action == nil {
		return model.Command{}, fmt.Errorf("%w: missing field \"action\"", ErrMalformedCommand)
	}

	cmd := model.Command{Target: model.Target(*req.Target), Action: model.Action(*req.Action)}
	if !cmd.Target.Valid() {
		return model.Command{}, fmt.Errorf("%w: unknown target %q (valid: GREEN_INDICATOR, RED_INDICATOR, SOUND, ALL)", ErrMalformedCommand, *req.Target)
	}
	if !cmd.Action.Valid() {
		return model.Command{}, fmt.Errorf("%w: unknown action %q (valid: ON, OFF, TOGGLE)", ErrMalformedCommand, *req.Action)
	}
	return cmd, nil
}

// Encode is the inverse of Decode, used by internal submitters such as the scheduler.
func Encode(cmd model.Command) []byte {
	b, _ := json.Marshal(cmd)
	return b
}
