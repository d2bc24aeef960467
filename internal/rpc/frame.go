package rpc

import "encoding/json"

// FrameKind distinguishes an outbound/inbound call from its reply, per the
// wire protocol in spec §4.C.
type FrameKind string

const (
	KindRequestFrame  FrameKind = "request"
	KindResponseFrame FrameKind = "response"
)

// Frame is the envelope exchanged in both directions over the channel.
// A request frame carries Method and Payload; a response frame carries OK
// and either Value or Error, correlated back to the request by ID.
type Frame struct {
	Kind    FrameKind       `json:"kind"`
	ID      string          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the server-supplied (or locally synthesized) failure reason for
// a response frame with ok:false.
type Error struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Name != "" {
		return e.Name + ": " + e.Message
	}
	return e.Message
}
