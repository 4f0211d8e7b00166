// Package protocol implements the JSON wire protocol spoken with the
// warehouse backend over the realtime connection.
//
// Outbound traffic is a Request (kind "action" or "submit"). Inbound traffic
// is decoded through ParseInbound into one of two closed variants: a Response
// answering an earlier request, or a Push initiated by the server. Validation
// happens once, at the transport boundary; consumers never see a frame with a
// missing required field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// Outbound kinds.
	KindAction = "action"
	KindSubmit = "submit"

	// Inbound kinds.
	KindResponse = "response"
	KindPush     = "UI"
)

// ActionAuth is the authentication handshake action. Requests carrying it are
// exempt from correlation-id stamping.
const ActionAuth = "auth"

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrUnknownKind   = errors.New("unknown message kind")
	ErrMissingAction = errors.New("missing action")
	ErrMissingResult = errors.New("response frame without result")
	ErrMissingCode   = errors.New("response result without code")
)

// Env carries per-message metadata: the acting user, the target warehouse,
// the correlation id and, on responses, the action being answered.
type Env struct {
	User        string `json:"user,omitempty"`
	Warehouse   string `json:"wh_id,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	OrigAction  string `json:"orig_action,omitempty"`
}

// Result is the outcome block of a response: a prefix-coded status code plus
// the variables used to interpolate its translated message.
type Result struct {
	Code      string            `json:"code"`
	Variables map[string]string `json:"variables,omitempty"`
}

// Request is an outbound envelope.
type Request struct {
	Kind    string         `json:"type"`
	Action  string         `json:"action"`
	Env     *Env           `json:"env,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Payload string         `json:"payload,omitempty"`
}

// Encode serializes the request to its wire form.
func (r *Request) Encode() ([]byte, error) {
	if r.Kind == "" {
		r.Kind = KindAction
	}
	return json.Marshal(r)
}

// Inbound is a parsed server-to-client envelope: either *Response or *Push.
type Inbound interface {
	// InboundAction returns the action string of the envelope.
	InboundAction() string

	// Fingerprint returns a structural-equality key used by subscribers to
	// recognize a log entry they have already acted on.
	Fingerprint() string

	isInbound()
}

// Response answers an earlier request. Rendered holds the translated notice
// text for the current locale; it is produced client-side and replaced in
// place when the locale changes.
type Response struct {
	Action   string
	Env      *Env
	Result   Result
	Params   map[string]any
	Rendered string
}

func (r *Response) InboundAction() string { return r.Action }
func (*Response) isInbound()              {}

func (r *Response) Fingerprint() string {
	return fingerprint(KindResponse, r.Action, r.Env, &r.Result, r.Params)
}

// Push is a server-initiated envelope not tied to any request.
type Push struct {
	Action string
	Env    *Env
	Params map[string]any
}

func (p *Push) InboundAction() string { return p.Action }
func (*Push) isInbound()              {}

func (p *Push) Fingerprint() string {
	return fingerprint(KindPush, p.Action, p.Env, nil, p.Params)
}

// rawInbound mirrors the wire layout before per-kind validation.
type rawInbound struct {
	Kind   string         `json:"type"`
	Action string         `json:"action"`
	Env    *Env           `json:"env,omitempty"`
	Result *Result        `json:"result,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// ParseInbound decodes and validates one inbound frame. A failure means the
// frame is dropped by the caller; it never carries partial data through.
func ParseInbound(data []byte) (Inbound, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if raw.Action == "" {
		return nil, ErrMissingAction
	}

	switch raw.Kind {
	case KindResponse:
		if raw.Result == nil {
			return nil, ErrMissingResult
		}
		if raw.Result.Code == "" {
			return nil, ErrMissingCode
		}
		return &Response{
			Action: raw.Action,
			Env:    raw.Env,
			Result: *raw.Result,
			Params: raw.Params,
		}, nil

	case KindPush:
		return &Push{
			Action: raw.Action,
			Env:    raw.Env,
			Params: raw.Params,
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, raw.Kind)
	}
}

func fingerprint(kind, action string, env *Env, result *Result, params map[string]any) string {
	key, err := json.Marshal(struct {
		Kind   string         `json:"type"`
		Action string         `json:"action"`
		Env    *Env           `json:"env,omitempty"`
		Result *Result        `json:"result,omitempty"`
		Params map[string]any `json:"params,omitempty"`
	}{kind, action, env, result, params})
	if err != nil {
		// Envelope fields are plain JSON-able data; this cannot fire for
		// frames produced by ParseInbound.
		return fmt.Sprintf("%s/%s", kind, action)
	}
	return string(key)
}
