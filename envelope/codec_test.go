package envelope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req, err := NewRequest("req_42", "tools/call", map[string]any{"name": "echo", "depth": 2})
	require.NoError(t, err)

	data, err := Marshal(req)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, req.JSONRPC, decoded.JSONRPC)
	assert.Equal(t, req.ID, decoded.ID)
	assert.Equal(t, req.Method, decoded.Method)
	assert.JSONEq(t, string(req.Params), string(decoded.Params))
	assert.Equal(t, KindRequest, decoded.Kind())
}

func TestMarshalRejectsInvalidEnvelope(t *testing.T) {
	msg := &Envelope{JSONRPC: Version, ID: "req_1", Method: "ping", Result: []byte(`{}`)}

	_, err := Marshal(msg)

	var verr *runtimeerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUnmarshalMalformedJSONIsParseError(t *testing.T) {
	_, err := Unmarshal([]byte(`{"jsonrpc": "2.0", "method":`))

	var perr *runtimeerrors.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestUnmarshalStructurallyInvalidIsValidationError(t *testing.T) {
	// Well-formed JSON, but neither request nor notification nor response.
	_, err := Unmarshal([]byte(`{"jsonrpc": "2.0", "id": "req_1"}`))

	var verr *runtimeerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUnmarshalWrongFieldTypeIsValidationError(t *testing.T) {
	// Well-formed JSON whose fields do not decode into the envelope shape.
	_, err := Unmarshal([]byte(`{"jsonrpc": "2.0", "id": "req_1", "method": 5}`))

	var verr *runtimeerrors.ValidationError
	require.ErrorAs(t, err, &verr)

	var perr *runtimeerrors.ParseError
	assert.False(t, errors.As(err, &perr))
}

func TestUnmarshalNumericID(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"jsonrpc": "2.0", "id": 7, "result": {"ok": true}}`))
	require.NoError(t, err)

	assert.Equal(t, KindResponse, decoded.Kind())
	assert.Equal(t, "7", decoded.IDKey())
}
