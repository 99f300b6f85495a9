package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// JSONRPCVersion is the only protocol version accepted on the wire.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 call that expects a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      uint64          `json:"id"`
}

// Response answers exactly one Request, matched by ID.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// Notification is a server-pushed frame with no ID and no reply.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// FrameKind tags a decoded frame. The classification happens exactly once,
// in DecodeFrame; call sites switch on the tag instead of re-inspecting
// field shapes.
type FrameKind int

const (
	FrameInvalid FrameKind = iota
	FrameRequest
	FrameResponse
	FrameNotification
)

// Frame is the tagged union of the three JSON-RPC frame shapes. Exactly one
// of Request, Response, Notification is non-nil, matching Kind.
type Frame struct {
	Kind         FrameKind
	Request      *Request
	Response     *Response
	Notification *Notification
}

// rawFrame holds every field any frame shape can carry. ID stays raw so a
// missing id and an explicit null can be told apart.
type rawFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

var nullBytes = []byte("null")

func (r *rawFrame) hasID() bool {
	return len(r.ID) > 0 && !bytes.Equal(r.ID, nullBytes)
}

// DecodeFrame parses a wire frame and classifies it:
//
//	method + non-null id      -> request
//	method + missing/null id  -> notification
//	result or error + id      -> response
//
// Anything else is an invalid frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}
	if raw.JSONRPC != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", raw.JSONRPC)
	}

	switch {
	case raw.Method != "" && raw.hasID():
		var id uint64
		if err := json.Unmarshal(raw.ID, &id); err != nil {
			return nil, fmt.Errorf("non-integer request id %s", raw.ID)
		}
		return &Frame{Kind: FrameRequest, Request: &Request{
			JSONRPC: raw.JSONRPC,
			Method:  raw.Method,
			Params:  raw.Params,
			ID:      id,
		}}, nil

	case raw.Method != "":
		return &Frame{Kind: FrameNotification, Notification: &Notification{
			JSONRPC: raw.JSONRPC,
			Method:  raw.Method,
			Params:  raw.Params,
		}}, nil

	case (len(raw.Result) > 0 || raw.Error != nil) && raw.hasID():
		var id uint64
		if err := json.Unmarshal(raw.ID, &id); err != nil {
			return nil, fmt.Errorf("non-integer response id %s", raw.ID)
		}
		return &Frame{Kind: FrameResponse, Response: &Response{
			JSONRPC: raw.JSONRPC,
			Result:  raw.Result,
			Error:   raw.Error,
			ID:      id,
		}}, nil
	}

	return nil, fmt.Errorf("frame is neither request, response nor notification")
}

// NewRequest builds a request frame with marshalled params.
func NewRequest(id uint64, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: JSONRPCVersion, Method: method, Params: raw, ID: id}, nil
}

// NewNotification builds a notification frame with marshalled params.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: JSONRPCVersion, Method: method, Params: raw}, nil
}

// NewResult builds a success response for the given request id.
func NewResult(id uint64, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{JSONRPC: JSONRPCVersion, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id uint64, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: JSONRPCVersion, Error: rpcErr, ID: id}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
