package envelope

import (
	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/jsoncodec"
)

// Marshal validates the envelope and serializes it to wire bytes.
func Marshal(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return jsoncodec.Marshal(e)
}

// Unmarshal parses wire bytes into a validated envelope. Malformed JSON
// yields a *ParseError; a structurally invalid message yields a
// *ValidationError.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := jsoncodec.Unmarshal(data, &e); err != nil {
		// Well-formed JSON that does not decode into the envelope shape is
		// a structural problem, not a parse failure.
		if jsoncodec.Valid(data) {
			return nil, &runtimeerrors.ValidationError{Reason: err.Error()}
		}
		return nil, &runtimeerrors.ParseError{Err: err}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
