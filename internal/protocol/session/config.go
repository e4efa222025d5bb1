package session

import (
	"strings"
	"time"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// SecurityMode selects how strictly transport security is enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// OverflowPolicy decides what happens when the outbound queue is full.
type OverflowPolicy string

const (
	// OverflowBlock applies backpressure to the inbound reader.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDrop discards the response and counts it.
	OverflowDrop OverflowPolicy = "drop"
)

// TLSConfig holds client-side TLS material paths.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines the prover session transport settings.
type Config struct {
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	OutboundQueueSize  int
	OverflowPolicy     OverflowPolicy
	SecurityMode       SecurityMode
	TLS                TLSConfig
}

// DefaultConfig returns the session defaults. Reads carry no deadline: an idle
// aggregator is not a failure.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		OutboundQueueSize: 64,
		OverflowPolicy:    OverflowBlock,
		SecurityMode:      SecurityModeDevelopment,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxConnectAttempts <= 0 {
		c.MaxConnectAttempts = d.MaxConnectAttempts
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = d.OutboundQueueSize
	}
	c.OverflowPolicy = OverflowPolicy(strings.ToLower(strings.TrimSpace(string(c.OverflowPolicy))))
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = d.OverflowPolicy
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
