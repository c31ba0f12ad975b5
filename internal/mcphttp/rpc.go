package mcphttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: codeParseError, Message: err.Error()}})
		return
	}
	if s.debug {
		fmt.Println("mcphttp: <-", req.Method)
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "initialize":
		resp.Result = s.handleInitialize()
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
		return
	case "tools/list":
		resp.Result = s.handleToolsList()
	case "tools/call":
		result, rpcErr := s.handleToolsCall(r.Context(), req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "unknown method: " + req.Method}
	}

	writeJSON(w, resp)
}

func (s *Server) authorized(r *http.Request) bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	authz := r.Header.Get("Authorization")
	return authz == "Bearer "+token && token != ""
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	ServerInfo      serverInfo     `json:"serverInfo"`
	Capabilities    map[string]any `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (s *Server) handleInitialize() initializeResult {
	return initializeResult{
		ProtocolVersion: "2025-06-18",
		ServerInfo:      serverInfo{Name: "jarvis-core-mcphttp", Version: "1.0.0"},
		Capabilities:    map[string]any{"tools": map[string]any{}},
	}
}

type toolsListResult struct {
	Tools []toolDescriptor `json:"tools"`
}

type toolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (s *Server) handleToolsList() toolsListResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	descriptors := make([]toolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		descriptors = append(descriptors, toolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
		})
	}
	return toolsListResult{Tools: descriptors}
}

type toolsCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (toolsCallResult, *rpcError) {
	var p toolsCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return toolsCallResult{}, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}

	args, err := json.Marshal(p.Arguments)
	if err != nil {
		return toolsCallResult{}, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}

	text, err := s.executor(ctx, p.Name, args)
	if err != nil {
		return toolsCallResult{
			Content: []contentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	return toolsCallResult{Content: []contentBlock{{Type: "text", Text: text}}}, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
