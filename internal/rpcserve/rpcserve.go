// Package rpcserve exposes unary request/response services as
// POST /<package>.<Service>/<Method> JSON endpoints on a gin router.
package rpcserve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/danmuck/proverctl/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotImplemented = errors.New("rpcserve: not implemented")
	ErrInvalidRequest = errors.New("rpcserve: invalid request")
)

// Fault codes carried in error bodies.
const (
	CodeOK              = "ok"
	CodeUnimplemented   = "unimplemented"
	CodeInvalidArgument = "invalid_argument"
	CodeInternal        = "internal"
)

const shutdownTimeout = 5 * time.Second

// ErrorBody is the JSON body of every failed call.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Method handles one decoded call. body is the raw JSON request.
type Method func(ctx context.Context, body []byte) (any, error)

// Service is a named set of methods.
type Service interface {
	Name() string
	Methods() map[string]Method
}

// Unary adapts a typed handler. An empty body decodes as the zero request.
func Unary[Req any, Resp any](fn func(context.Context, *Req) (*Resp, error)) Method {
	return func(ctx context.Context, body []byte) (any, error) {
		req := new(Req)
		if len(body) > 0 {
			if err := json.Unmarshal(body, req); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
		return fn(ctx, req)
	}
}

// Unimplemented is a method that always faults with ErrNotImplemented.
func Unimplemented(service, method string) Method {
	return func(context.Context, []byte) (any, error) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotImplemented, service, method)
	}
}

// Server hosts services on one listen address.
type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	router   *gin.Engine
	services []Service
}

func Appear(id, addr string) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestObserver(id, log.Logger))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		router:   r,
	}
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.Appeared).String(),
			"service":  s.ID,
			"services": s.ServiceNames(),
		})
	})
	return s
}

// Register mounts every method of svc.
func (s *Server) Register(svc Service) {
	s.services = append(s.services, svc)
	name := svc.Name()
	methods := svc.Methods()
	names := make([]string, 0, len(methods))
	for m := range methods {
		names = append(names, m)
	}
	sort.Strings(names)
	for _, m := range names {
		s.router.POST("/"+name+"/"+m, handle(name, m, methods[m]))
	}
	log.Debug().Msgf("rpcserve.Server.Register id=%s service=%s methods=%d", s.ID, name, len(names))
}

func (s *Server) ServiceNames() []string {
	out := make([]string, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc.Name())
	}
	return out
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("rpcserve: listen %s: %w", s.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	return ServeHTTP(ctx, ln, s.router, s.ID)
}

// ServeHTTP runs h on ln until ctx is cancelled.
func ServeHTTP(ctx context.Context, ln net.Listener, h http.Handler, name string) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Msgf("rpcserve.Serve %s listening addr=%s", name, ln.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msgf("rpcserve.Serve %s stopped", name)
	return nil
}

func handle(service, method string, fn Method) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			fail(c, service, method, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
			return
		}
		resp, err := fn(c.Request.Context(), body)
		if err != nil {
			fail(c, service, method, err)
			return
		}
		observability.RecordRPC(service, method, CodeOK)
		c.JSON(http.StatusOK, resp)
	}
}

func fail(c *gin.Context, service, method string, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, ErrNotImplemented):
		status, code = http.StatusNotImplemented, CodeUnimplemented
	case errors.Is(err, ErrInvalidRequest):
		status, code = http.StatusBadRequest, CodeInvalidArgument
	}
	observability.RecordRPC(service, method, code)
	log.Warn().Msgf("rpcserve %s/%s fault code=%s err=%v", service, method, code, err)
	c.JSON(status, ErrorBody{Code: code, Message: err.Error()})
}
