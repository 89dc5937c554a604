// Package mcp exposes the generation service as MCP tools over stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/models"
)

// Generator is the subset of the generation service the tools drive.
type Generator interface {
	GenerateOnce(ctx context.Context, req models.GenerationRequest) (models.GenResponse, error)
	GenerateBatch(ctx context.Context, req models.BatchRequest) (models.BatchResponse, error)
	CreateSession(ctx context.Context, req models.SessionCreate) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]models.SessionSummary, error)
	AppendToSession(ctx context.Context, req models.AppendRequest) (models.GenResponse, error)
	CacheStats(ctx context.Context) (models.CacheStats, error)
}

// Ledger reads generation history. It is optional.
type Ledger interface {
	Summary(ctx context.Context, since time.Time) ([]models.GenerationSummary, error)
	Recent(ctx context.Context, limit int) ([]models.GenerationRecord, error)
}

// Server is a minimal MCP server speaking line-delimited JSON-RPC 2.0.
type Server struct {
	gen     Generator
	ledger  Ledger
	version string
	logger  *zap.Logger
}

// New creates a Server. ledger may be nil.
func New(gen Generator, ledger Ledger, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		gen:     gen,
		ledger:  ledger,
		version: version,
		logger:  logger.With(zap.String("component", "mcp")),
	}
}

// Run reads requests from r one per line and writes responses to w.
// It blocks until r is exhausted or ctx is cancelled.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return reply(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "meshbridge", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return reply(req, map[string]any{})
	case "tools/list":
		return reply(req, ToolsListResult{Tools: allTools})
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
		}
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
		}
	}

	handler, ok := toolHandlers[params.Name]
	if !ok {
		return reply(req, errorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
	}

	start := time.Now()
	result := handler(ctx, s, params.Arguments)
	s.logger.Info("tool call",
		zap.String("tool", params.Name),
		zap.Bool("is_error", result.IsError),
		zap.Duration("duration", time.Since(start)),
	)
	return reply(req, result)
}

func reply(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
