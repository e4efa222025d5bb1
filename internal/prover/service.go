package prover

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/proverctl/internal/executor"
	"github.com/danmuck/proverctl/internal/fixture"
	"github.com/danmuck/proverctl/internal/hashdb"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/danmuck/proverctl/internal/rpcserve"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig is the resolved runtime configuration.
type ServiceConfig struct {
	AggregatorURL string
	ProverName    string
	ProverID      string
	FixturePath   string
	// ExecutorAddr, HashDBAddr and AdminAddr are listen addresses; blank
	// skips that server.
	ExecutorAddr string
	HashDBAddr   string
	AdminAddr    string
	// AdminToken, when set, is required as a bearer token on every admin
	// route except /health.
	AdminToken  string
	CORSOrigins []string
	Session     session.Config
}

// Service runs one prover process: auxiliary servers, admin endpoint and a
// single aggregator session. It returns when the session ends.
type Service struct {
	cfg        ServiceConfig
	endpoint   Endpoint
	bundle     *fixture.Bundle
	dispatcher *Dispatcher
	appeared   time.Time

	mu      sync.RWMutex
	current *Session
}

// NewService resolves the aggregator endpoint and loads the fixture bundle.
// Any failure here aborts startup.
func NewService(cfg ServiceConfig) (*Service, error) {
	ep, err := ParseAggregatorURL(cfg.AggregatorURL)
	if err != nil {
		return nil, err
	}
	if ep.TLS {
		cfg.Session.TLS.Enabled = true
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	bundle, err := fixture.LoadOrDefault(cfg.FixturePath)
	if err != nil {
		return nil, err
	}
	d := NewDispatcher(bundle, DispatcherConfig{
		ProverName: cfg.ProverName,
		ProverID:   cfg.ProverID,
	})
	return &Service{
		cfg:        cfg,
		endpoint:   ep,
		bundle:     bundle,
		dispatcher: d,
		appeared:   time.Now(),
	}, nil
}

// Run blocks until the session ends or the process is signalled.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext binds every configured listener first so a bad port fails
// before the aggregator is dialled.
func (s *Service) RunContext(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type server struct {
		name  string
		ln    net.Listener
		serve func(context.Context, net.Listener) error
	}
	var servers []server
	closeAll := func() {
		for _, srv := range servers {
			_ = srv.ln.Close()
		}
	}
	bind := func(name, addr string, serve func(context.Context, net.Listener) error) error {
		if strings.TrimSpace(addr) == "" {
			return nil
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("prover: %s listen %s: %w", name, addr, err)
		}
		servers = append(servers, server{name: name, ln: ln, serve: serve})
		return nil
	}

	if err := bind("executor", s.cfg.ExecutorAddr, s.auxServer("executor", executor.NewService()).ServeListener); err != nil {
		closeAll()
		return err
	}
	if err := bind("hashdb", s.cfg.HashDBAddr, s.auxServer("hashdb", hashdb.NewService()).ServeListener); err != nil {
		closeAll()
		return err
	}
	router := s.adminRouter()
	if err := bind("admin", s.cfg.AdminAddr, func(ctx context.Context, ln net.Listener) error {
		return rpcserve.ServeHTTP(ctx, ln, router, adminComponent)
	}); err != nil {
		closeAll()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.serve(gctx, srv.ln); err != nil {
				return fmt.Errorf("prover: %s server: %w", srv.name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		return s.runSession(gctx)
	})
	return g.Wait()
}

func (s *Service) auxServer(name string, svc rpcserve.Service) *rpcserve.Server {
	srv := rpcserve.Appear(name, "")
	srv.Register(svc)
	return srv
}

func (s *Service) runSession(ctx context.Context) error {
	log.Info().Msgf("prover.Service.runSession establishing connection to aggregator addr=%s tls=%v", s.endpoint.Address, s.cfg.Session.TLS.Enabled)
	client, err := NewClient(ClientConfig{Address: s.endpoint.Address, Session: s.cfg.Session}, s.dispatcher)
	if err != nil {
		return err
	}
	sess, err := client.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.setSession(sess)
	return sess.Run(ctx)
}

func (s *Service) setSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
}

// Session returns the current or last session, if any.
func (s *Service) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}
