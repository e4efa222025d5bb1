package prover

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrAggregatorAddressRequired = errors.New("prover: aggregator address required")
	ErrInvalidAggregatorURL      = errors.New("prover: invalid aggregator url")
	ErrRegistrationRejected      = errors.New("prover: registration rejected")
)

// Endpoint is a parsed aggregator location.
type Endpoint struct {
	Address string
	TLS     bool
}

// ParseAggregatorURL accepts host:port or a URL with scheme http, tcp, https
// or tls. The secure schemes turn TLS on; a missing port defaults by scheme.
func ParseAggregatorURL(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, ErrAggregatorAddressRequired
	}
	if !strings.Contains(raw, "://") {
		if _, _, err := net.SplitHostPort(raw); err != nil {
			return Endpoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidAggregatorURL, raw, err)
		}
		return Endpoint{Address: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidAggregatorURL, err)
	}
	var ep Endpoint
	defaultPort := "80"
	switch strings.ToLower(u.Scheme) {
	case "http", "tcp":
	case "https", "tls":
		ep.TLS = true
		defaultPort = "443"
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidAggregatorURL, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidAggregatorURL, raw)
	}
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	ep.Address = net.JoinHostPort(host, port)
	return ep, nil
}

type ClientConfig struct {
	Address string
	Session session.Config
}

// Client dials and registers with the aggregator.
type Client struct {
	cfg        ClientConfig
	dispatcher *Dispatcher
	rng        *rand.Rand
}

func NewClient(cfg ClientConfig, d *Dispatcher) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAggregatorAddressRequired
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Session.Validate(); err != nil {
		return nil, err
	}
	seed := uint64(time.Now().UnixNano())
	return &Client{
		cfg:        cfg,
		dispatcher: d,
		rng:        rand.New(rand.NewPCG(seed, seed>>1)),
	}, nil
}

// Connect dials the aggregator, registers and returns a session ready to Run.
// Failed attempts are retried up to MaxConnectAttempts; a rejected
// registration is never retried.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			var s *Session
			s, err = c.register(conn)
			if err == nil {
				return s, nil
			}
			_ = conn.Close()
			if errors.Is(err, ErrRegistrationRejected) {
				return nil, err
			}
		}
		log.Warn().Msgf("prover.Client.Connect attempt=%d addr=%q err=%v", attempt, c.cfg.Address, err)
		if attempt >= c.cfg.Session.MaxConnectAttempts {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, err
	}
	if !c.cfg.Session.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := c.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.cfg.Session.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Client) clientTLSConfig() (*tls.Config, error) {
	tc := c.cfg.Session.TLS
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: tc.InsecureSkipVerify,
	}

	serverName := strings.TrimSpace(tc.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(c.cfg.Address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(tc.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("prover: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if tc.Mutual {
		cert, err := tls.LoadX509KeyPair(tc.CertFile, tc.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := session.NextBackoffDelay(c.cfg.Session.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) register(conn net.Conn) (*Session, error) {
	_ = conn.SetDeadline(time.Now().Add(c.cfg.Session.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	reg := session.Registration{
		ProverName:    c.dispatcher.ProverName(),
		ProverID:      c.dispatcher.ProverID(),
		VersionProto:  VersionProto,
		VersionServer: VersionServer,
		ForkID:        c.dispatcher.ForkID(),
	}
	if err := session.WriteRegistration(conn, reg); err != nil {
		return nil, err
	}
	ack, err := session.ReadRegistrationAck(reader)
	if err != nil {
		return nil, err
	}
	if !ack.Accepted() {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrRegistrationRejected, ack.Code, ack.Message)
	}
	_ = conn.SetDeadline(time.Time{})
	log.Info().
		Str("prover_id", reg.ProverID).
		Msgf("prover.Client.register accepted addr=%q", c.cfg.Address)
	return newSession(conn, reader, c.cfg.Session, c.dispatcher), nil
}
