// Package mcp serves the feed tools over a line-delimited JSON-RPC 2.0
// stdio transport for agent clients.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/streamfeed/server/internal/logging"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type Server struct {
	handler *Handler
	logger  *logging.Logger
}

func NewServer(handler *Handler, logger *logging.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
	}
}

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
	Capabilities    caps       `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type caps struct {
	Tools toolsCap `json:"tools"`
}

type toolsCap struct {
	ListChanged bool `json:"listChanged"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Run serves requests from stdin until EOF or ctx is done
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads one request per line from r and writes one response per line to w
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReader(r)

	s.logger.Info("MCP server started, waiting for requests")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			if resp := s.handleRequest(ctx, line); resp != nil {
				data, merr := json.Marshal(resp)
				if merr != nil {
					s.logger.Error("Failed to marshal response", logging.WithField("error", merr.Error()))
				} else if _, werr := w.Write(append(data, '\n')); werr != nil {
					return fmt.Errorf("write error: %w", werr)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, codeParseError, "Parse error")
	}

	s.logger.Debug("Received request", logging.WithFields(map[string]interface{}{
		"method": req.Method,
		"id":     req.ID,
	}))

	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: "stream-feed", Version: "1.0.0"},
		})
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		return result(req.ID, map[string]interface{}{"tools": s.handler.Tools()})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	case "ping":
		return result(req.ID, map[string]interface{}{})
	default:
		return errorResponse(req.ID, codeMethodNotFound, "Method not found")
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) *Response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errorResponse(req.ID, codeInvalidParams, "Invalid params: "+err.Error())
	}

	out, err := s.handler.Call(ctx, params.Name, params.Arguments)
	isError := false
	if err != nil {
		out = map[string]string{"error": err.Error()}
		isError = true
	}

	text, _ := json.MarshalIndent(out, "", "  ")
	return result(req.ID, CallToolResult{
		Content: []ContentItem{{Type: "text", Text: string(text)}},
		IsError: isError,
	})
}

func result(id interface{}, v interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id interface{}, code int, msg string) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}}
}
