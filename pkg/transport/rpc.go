// Copyright 2025 The Quiver Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport exposes the search engine over JSON-RPC 2.0, via
// line-delimited stdio or HTTP with server-sent events.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/quiverkb/quiver/pkg/observability"
	"github.com/quiverkb/quiver/pkg/search"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2025-03-26"

// supportedProtocolVersions lists the current revision plus two predecessors.
var supportedProtocolVersions = []string{ProtocolVersion, "2024-11-05", "2024-10-07"}

// Request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

func resultResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: normalizeID(id), Result: result}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// Handler dispatches JSON-RPC requests to the search surfaces.
type Handler struct {
	engine   *search.Engine
	faceter  *search.Faceter
	chainer  *search.Chainer
	crossdoc *search.CrossDoc
	metrics  *observability.Metrics
	tracer   *observability.Tracer

	serverName    string
	serverVersion string
}

// NewHandler wires a dispatcher over the engine and its discovery surfaces.
func NewHandler(engine *search.Engine, faceter *search.Faceter, chainer *search.Chainer, crossdoc *search.CrossDoc, metrics *observability.Metrics, tracer *observability.Tracer, serverName, serverVersion string) *Handler {
	return &Handler{
		engine:        engine,
		faceter:       faceter,
		chainer:       chainer,
		crossdoc:      crossdoc,
		metrics:       metrics,
		tracer:        tracer,
		serverName:    serverName,
		serverVersion: serverVersion,
	}
}

// HandleRaw parses one message and dispatches it. The returned bytes are nil
// for notifications.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		out, _ := json.Marshal(errorResponse(nil, CodeParseError, "Parse error", err.Error()))
		return out
	}

	resp := h.Handle(ctx, &req)
	if resp == nil {
		return nil
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(errorResponse(req.ID, CodeInternalError, "internal error", err.Error()))
	}
	return out
}

// Handle dispatches a parsed request. Notifications return nil.
func (h *Handler) Handle(ctx context.Context, req *Request) *Response {
	if req.IsNotification() {
		// Spec-level silence: acknowledged but never answered.
		slog.Debug("dropping notification", "method", req.Method)
		return nil
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request", "jsonrpc must be \"2.0\" and method must be set")
	}

	switch req.Method {
	case "initialize":
		return resultResponse(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    h.serverName,
				"version": h.serverVersion,
			},
		})
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return resultResponse(req.ID, map[string]any{"tools": toolDescriptors()})
	case "tools/call":
		return h.handleToolCall(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "method not found", req.Method)
	}
}

// toolCallParams is the envelope of a tools/call request.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (h *Handler) handleToolCall(ctx context.Context, req *Request) *Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params", "params must be an object with name and arguments")
	}
	if params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "invalid params", "field name is required")
	}

	ctx, span := h.tracer.StartToolCall(ctx, params.Name)
	defer span.End()

	result, rpcErr := h.dispatchTool(ctx, params.Name, params.Arguments)
	if rpcErr != nil {
		h.metrics.ObserveToolCall(params.Name, rpcErr)
		h.tracer.RecordError(span, rpcErr)
		return &Response{JSONRPC: "2.0", ID: normalizeID(req.ID), Error: rpcErr}
	}
	h.metrics.ObserveToolCall(params.Name, nil)

	// MCP tool results wrap content as a text block with the structured
	// payload alongside.
	serialized, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "internal error", err.Error())
	}
	return resultResponse(req.ID, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(serialized)},
		},
		"structuredContent": result,
	})
}

func invalidParams(field, detail string) *RPCError {
	return &RPCError{
		Code:    CodeInvalidParams,
		Message: "invalid params",
		Data:    map[string]string{"field": field, "detail": detail},
	}
}

func internalError(err error) *RPCError {
	return &RPCError{Code: CodeInternalError, Message: "internal error", Data: err.Error()}
}

func decodeArgs(raw json.RawMessage, into any) *RPCError {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &RPCError{
			Code:    CodeInvalidParams,
			Message: "invalid params",
			Data:    map[string]string{"detail": err.Error()},
		}
	}
	return nil
}
