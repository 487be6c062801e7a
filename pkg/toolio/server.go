// Package toolio exposes the fabric's services over a newline-delimited
// JSON request/response loop on stdin/stdout, for agent runtimes that speak
// a line protocol instead of HTTP. The adapter handles encoding and routing
// only; all semantics live in the service cores it dispatches to.
package toolio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
)

// maxLineBytes bounds one request line. Receipts carry up to 100 KiB
// bodies plus envelope overhead.
const maxLineBytes = 512 * 1024

// Request is one inbound line.
type Request struct {
	ID   string          `json:"id,omitempty"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Response is one outbound line. Errors are carried in-band so the peer
// never has to parse a broken stream.
type Response struct {
	ID     string `json:"id,omitempty"`
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler executes one tool call. The tenant is resolved once for the whole
// session, when the server is constructed.
type Handler func(ctx context.Context, tenantID string, args json.RawMessage) (any, error)

// Server dispatches NDJSON tool calls to registered handlers.
type Server struct {
	tenantID string
	handlers map[string]Handler
	logger   *slog.Logger
}

func NewServer(tenantID string) *Server {
	return &Server{
		tenantID: tenantID,
		handlers: make(map[string]Handler),
		logger:   slog.Default().With("component", "toolio"),
	}
}

// Register binds a tool name to its handler.
func (s *Server) Register(name string, h Handler) {
	s.handlers[name] = h
}

// Tools returns the registered tool names, sorted.
func (s *Server) Tools() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run reads request lines from r until EOF or context cancellation and
// writes one response line per request to w.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := s.dispatch(ctx, line)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return &Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)}
	}

	handler, ok := s.handlers[req.Tool]
	if !ok {
		return &Response{ID: req.ID, OK: false, Error: fmt.Sprintf("unknown tool %q", req.Tool)}
	}

	result, err := handler(ctx, s.tenantID, req.Args)
	if err != nil {
		s.logger.WarnContext(ctx, "tool call failed", "tool", req.Tool, "error", err)
		return &Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	return &Response{ID: req.ID, OK: true, Result: result}
}
