package dirindexd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dirindex/internal/version"
)

const DefaultListen = "127.0.0.1:7338"

type Options struct {
	Listen string
	Logger *zap.Logger
}

// Server answers newline-delimited JSON-RPC 2.0 requests, one connection
// per goroutine.
type Server struct {
	opts Options
	h    *Handlers
	log  *zap.Logger

	mu        sync.Mutex
	listener  net.Listener
	closeOnce sync.Once
	closed    chan struct{}
}

func NewServer(opts Options, h *Handlers) *Server {
	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		opts:   opts,
		h:      h,
		log:    log,
		closed: make(chan struct{}),
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run accepts connections until Close or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server is nil")
	}

	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.log.Info("admin server listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) Close() error {
	if s == nil {
		return nil
	}

	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	defer func() { _ = w.Flush() }()

	for {
		line, err := ReadOneLine(r)
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			_ = WriteOneLine(w, Response{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &ErrorObject{Code: CodeParseError, Message: "parse error"},
			})
			_ = w.Flush()
			continue
		}

		if len(req.ID) == 0 {
			// Notification: no response.
			_ = s.dispatch(ctx, req)
			continue
		}

		resp := s.dispatch(ctx, req)
		_ = WriteOneLine(w, resp)
		_ = w.Flush()
	}
}

func decodeParams(req Request, out any) *ErrorObject {
	if len(req.Params) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		return &ErrorObject{Code: CodeInvalidParams, Message: "invalid params"}
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	resp := Response{
		JSONRPC: "2.0",
		ID:      req.ID,
	}

	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		resp.Error = &ErrorObject{Code: CodeInvalidRequest, Message: "invalid jsonrpc version"}
		return resp
	}

	var (
		result any
		err    error
	)
	switch req.Method {
	case "ping":
		result = "pong"
	case "version":
		result = version.String()
	case "stats":
		result, err = s.h.Stats(ctx)
	case "dir.get":
		var p DirGetParams
		if e := decodeParams(req, &p); e != nil {
			resp.Error = e
			return resp
		}
		if strings.TrimSpace(p.Path) == "" && strings.TrimSpace(p.ID) == "" {
			resp.Error = &ErrorObject{Code: CodeInvalidParams, Message: "path or id is required"}
			return resp
		}
		result, err = s.h.DirGet(ctx, p)
	case "dir.search":
		var p DirSearchParams
		if e := decodeParams(req, &p); e != nil {
			resp.Error = e
			return resp
		}
		if strings.TrimSpace(p.Q) == "" {
			resp.Error = &ErrorObject{Code: CodeInvalidParams, Message: "q is required"}
			return resp
		}
		result, err = s.h.DirSearch(ctx, p)
	case "mapping.refresh":
		result, err = s.h.MappingRefresh(ctx)
	default:
		resp.Error = &ErrorObject{Code: CodeMethodNotFound, Message: "method not found"}
		return resp
	}

	if err != nil {
		s.log.Warn("admin request failed", zap.String("method", req.Method), zap.Error(err))
		resp.Error = &ErrorObject{Code: errorCode(err), Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}
