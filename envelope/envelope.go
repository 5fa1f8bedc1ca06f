// Package envelope defines the JSON-RPC 2.0 wire message used by every
// mcpwire channel, and the codec that enforces its structural invariant.
//
// An envelope is exactly one of three kinds: a Request (method and id
// present), a Notification (method present, id absent), or a Response (id
// present and exactly one of result or error present). Everything in the
// module relies on this discriminant; the codec rejects anything else on both
// serialize and deserialize.
package envelope

import (
	"encoding/json"
	"strconv"

	runtimeerrors "github.com/drblury/mcpwire/internal/runtime/errors"
	"github.com/drblury/mcpwire/internal/runtime/jsoncodec"
)

// Version is the fixed protocol tag carried by every envelope.
const Version = "2.0"

// Kind discriminates the three envelope shapes.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// ErrorObject is the error member of an error Response.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Envelope is the protocol message unit. Params and Result are kept as raw
// JSON; validation operates only on the fixed fields and never inspects
// payload internals. ID holds a string, a float64 (JSON numbers), or nil.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// NewRequest builds a Request envelope. Params may be nil.
func NewRequest(id any, method string, params any) (*Envelope, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification envelope. Params may be nil.
func NewNotification(method string, params any) (*Envelope, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResult builds a success Response envelope.
func NewResult(id any, result any) (*Envelope, error) {
	raw, err := marshalPayload(result)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return &Envelope{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewError builds an error Response envelope.
func NewError(id any, code int, message string) *Envelope {
	return &Envelope{
		JSONRPC: Version,
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message},
	}
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Kind classifies the envelope without validating the protocol tag.
func (e *Envelope) Kind() Kind {
	hasID := e.ID != nil
	hasResult := len(e.Result) > 0
	hasError := e.Error != nil

	if e.Method != "" {
		if hasResult || hasError {
			return KindInvalid
		}
		if hasID {
			return KindRequest
		}
		return KindNotification
	}

	if hasID && (hasResult != hasError) {
		return KindResponse
	}
	return KindInvalid
}

// IsRequest reports whether the envelope is a Request.
func (e *Envelope) IsRequest() bool { return e.Kind() == KindRequest }

// IsNotification reports whether the envelope is a Notification.
func (e *Envelope) IsNotification() bool { return e.Kind() == KindNotification }

// IsResponse reports whether the envelope is a Response.
func (e *Envelope) IsResponse() bool { return e.Kind() == KindResponse }

// IDKey returns a stable string key for the envelope id, suitable for
// correlation maps. Numeric ids format without an exponent so the key for a
// request serialized as 7 and a response deserialized as 7.0 agree.
func (e *Envelope) IDKey() string {
	switch id := e.ID.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case nil:
		return ""
	default:
		return ""
	}
}

// Validate enforces the protocol tag and the kind discriminant.
func (e *Envelope) Validate() error {
	if e.JSONRPC != Version {
		return &runtimeerrors.ValidationError{Reason: "missing or wrong jsonrpc version tag"}
	}
	switch e.ID.(type) {
	case nil, string, float64, int, int64:
	default:
		return &runtimeerrors.ValidationError{Reason: "id must be a string or a number"}
	}
	if e.Kind() == KindInvalid {
		return &runtimeerrors.ValidationError{Reason: "message is not a request, notification, or response"}
	}
	return nil
}
