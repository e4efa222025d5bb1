package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/proverctl/internal/prover"
	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/kelseyhightower/envconfig"
)

const DefaultAggregatorURL = "http://localhost:50081"

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the flat operator-facing configuration. Layers apply in order:
// defaults, TOML file, environment, then command-line flags.
type Config struct {
	AggregatorURL string `envconfig:"AGGREGATOR_URL"`
	ExecutorPort  int    `envconfig:"EXECUTOR_PORT"`
	HashDBPort    int    `envconfig:"HASHDB_PORT"`

	ProverName  string   `envconfig:"PROVERCTL_PROVER_NAME"`
	ProverID    string   `envconfig:"PROVERCTL_PROVER_ID"`
	FixturePath string   `envconfig:"PROVERCTL_FIXTURE_PATH"`
	AdminAddr   string   `envconfig:"PROVERCTL_ADMIN_ADDR"`
	AdminToken  string   `envconfig:"PROVERCTL_ADMIN_TOKEN"`
	CORSOrigins []string `envconfig:"PROVERCTL_CORS_ORIGINS"`

	OutboundQueueSize  int           `envconfig:"PROVERCTL_OUTBOUND_QUEUE_SIZE"`
	OutboundOverflow   string        `envconfig:"PROVERCTL_OUTBOUND_OVERFLOW"`
	MaxConnectAttempts int           `envconfig:"PROVERCTL_MAX_CONNECT_ATTEMPTS"`
	ConnectTimeout     time.Duration `envconfig:"PROVERCTL_CONNECT_TIMEOUT"`
	HandshakeTimeout   time.Duration `envconfig:"PROVERCTL_HANDSHAKE_TIMEOUT"`
	WriteTimeout       time.Duration `envconfig:"PROVERCTL_WRITE_TIMEOUT"`

	SecurityMode          string `envconfig:"PROVERCTL_SECURITY_MODE"`
	TLSEnabled            bool   `envconfig:"PROVERCTL_TLS_ENABLED"`
	TLSMutual             bool   `envconfig:"PROVERCTL_TLS_MUTUAL"`
	TLSCAFile             string `envconfig:"PROVERCTL_TLS_CA_FILE"`
	TLSCertFile           string `envconfig:"PROVERCTL_TLS_CERT_FILE"`
	TLSKeyFile            string `envconfig:"PROVERCTL_TLS_KEY_FILE"`
	TLSServerName         string `envconfig:"PROVERCTL_TLS_SERVER_NAME"`
	TLSInsecureSkipVerify bool   `envconfig:"PROVERCTL_TLS_INSECURE_SKIP_VERIFY"`
}

type fileConfig struct {
	AggregatorURL string   `toml:"aggregator_url"`
	ExecutorPort  int      `toml:"executor_port"`
	HashDBPort    int      `toml:"hashdb_port"`
	ProverName    string   `toml:"prover_name"`
	ProverID      string   `toml:"prover_id"`
	FixturePath   string   `toml:"fixture_path"`
	AdminAddr     string   `toml:"admin_addr"`
	AdminToken    string   `toml:"admin_token"`
	CORSOrigins   []string `toml:"cors_origins"`

	OutboundQueueSize  int    `toml:"outbound_queue_size"`
	OutboundOverflow   string `toml:"outbound_overflow"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	ConnectTimeout     string `toml:"connect_timeout"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
	WriteTimeout       string `toml:"write_timeout"`

	SecurityMode          string `toml:"security_mode"`
	TLSEnabled            bool   `toml:"tls_enabled"`
	TLSMutual             bool   `toml:"tls_mutual"`
	TLSCAFile             string `toml:"tls_ca_file"`
	TLSCertFile           string `toml:"tls_cert_file"`
	TLSKeyFile            string `toml:"tls_key_file"`
	TLSServerName         string `toml:"tls_server_name"`
	TLSInsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
}

func Default() Config {
	s := session.DefaultConfig()
	return Config{
		AggregatorURL:      DefaultAggregatorURL,
		ProverName:         prover.DefaultProverName,
		AdminAddr:          "127.0.0.1:9091",
		OutboundQueueSize:  s.OutboundQueueSize,
		OutboundOverflow:   string(s.OverflowPolicy),
		MaxConnectAttempts: s.MaxConnectAttempts,
		ConnectTimeout:     s.ConnectTimeout,
		HandshakeTimeout:   s.HandshakeTimeout,
		WriteTimeout:       s.WriteTimeout,
		SecurityMode:       string(s.SecurityMode),
	}
}

// Load resolves defaults, the optional TOML file at path and the
// environment, then validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if err := ApplyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyFile overlays only the keys present in the file onto cfg.
func ApplyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("%w: unknown key %q in %s", ErrInvalidConfig, undecoded[0].String(), path)
	}

	if meta.IsDefined("aggregator_url") {
		cfg.AggregatorURL = strings.TrimSpace(raw.AggregatorURL)
	}
	if meta.IsDefined("executor_port") {
		cfg.ExecutorPort = raw.ExecutorPort
	}
	if meta.IsDefined("hashdb_port") {
		cfg.HashDBPort = raw.HashDBPort
	}
	if meta.IsDefined("prover_name") {
		cfg.ProverName = strings.TrimSpace(raw.ProverName)
	}
	if meta.IsDefined("prover_id") {
		cfg.ProverID = strings.TrimSpace(raw.ProverID)
	}
	if meta.IsDefined("fixture_path") {
		cfg.FixturePath = strings.TrimSpace(raw.FixturePath)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if meta.IsDefined("outbound_queue_size") {
		cfg.OutboundQueueSize = raw.OutboundQueueSize
	}
	if meta.IsDefined("outbound_overflow") {
		cfg.OutboundOverflow = strings.TrimSpace(raw.OutboundOverflow)
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	for key, dst := range map[string]struct {
		raw string
		out *time.Duration
	}{
		"connect_timeout":   {raw.ConnectTimeout, &cfg.ConnectTimeout},
		"handshake_timeout": {raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		"write_timeout":     {raw.WriteTimeout, &cfg.WriteTimeout},
	} {
		if !meta.IsDefined(key) {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(dst.raw))
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst.out = d
	}
	if meta.IsDefined("security_mode") {
		cfg.SecurityMode = strings.TrimSpace(raw.SecurityMode)
	}
	if meta.IsDefined("tls_enabled") {
		cfg.TLSEnabled = raw.TLSEnabled
	}
	if meta.IsDefined("tls_mutual") {
		cfg.TLSMutual = raw.TLSMutual
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.TLSCAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_server_name") {
		cfg.TLSServerName = strings.TrimSpace(raw.TLSServerName)
	}
	if meta.IsDefined("tls_insecure_skip_verify") {
		cfg.TLSInsecureSkipVerify = raw.TLSInsecureSkipVerify
	}
	return nil
}

// ApplyEnv overlays set environment variables; unset ones leave cfg alone.
func ApplyEnv(cfg *Config) error {
	if err := envconfig.Process("", cfg); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	return nil
}

func (c Config) Validate() error {
	ep, err := prover.ParseAggregatorURL(c.AggregatorURL)
	if err != nil {
		return err
	}
	for name, port := range map[string]int{"executor_port": c.ExecutorPort, "hashdb_port": c.HashDBPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	if c.ExecutorPort != 0 && c.ExecutorPort == c.HashDBPort {
		return fmt.Errorf("%w: executor_port and hashdb_port both %d", ErrInvalidConfig, c.ExecutorPort)
	}
	if c.OutboundQueueSize < 0 {
		return fmt.Errorf("%w: outbound_queue_size %d", ErrInvalidConfig, c.OutboundQueueSize)
	}
	if c.MaxConnectAttempts < 0 {
		return fmt.Errorf("%w: max_connect_attempts %d", ErrInvalidConfig, c.MaxConnectAttempts)
	}
	s := c.Session()
	if ep.TLS {
		s.TLS.Enabled = true
	}
	return s.WithDefaults().Validate()
}

// Session maps the transport keys onto a session config. An https or tls
// aggregator URL turns TLS on later regardless of tls_enabled.
func (c Config) Session() session.Config {
	return session.Config{
		ConnectTimeout:     c.ConnectTimeout,
		HandshakeTimeout:   c.HandshakeTimeout,
		WriteTimeout:       c.WriteTimeout,
		MaxConnectAttempts: c.MaxConnectAttempts,
		OutboundQueueSize:  c.OutboundQueueSize,
		OverflowPolicy:     session.OverflowPolicy(c.OutboundOverflow),
		SecurityMode:       session.SecurityMode(c.SecurityMode),
		TLS: session.TLSConfig{
			Enabled:            c.TLSEnabled || c.TLSMutual,
			Mutual:             c.TLSMutual,
			CAFile:             c.TLSCAFile,
			CertFile:           c.TLSCertFile,
			KeyFile:            c.TLSKeyFile,
			ServerName:         c.TLSServerName,
			InsecureSkipVerify: c.TLSInsecureSkipVerify,
		},
	}
}

// ServiceConfig resolves the listen addresses; a zero port skips that server.
func (c Config) ServiceConfig() prover.ServiceConfig {
	return prover.ServiceConfig{
		AggregatorURL: c.AggregatorURL,
		ProverName:    c.ProverName,
		ProverID:      c.ProverID,
		FixturePath:   c.FixturePath,
		ExecutorAddr:  listenAddr(c.ExecutorPort),
		HashDBAddr:    listenAddr(c.HashDBPort),
		AdminAddr:     c.AdminAddr,
		AdminToken:    c.AdminToken,
		CORSOrigins:   c.CORSOrigins,
		Session:       c.Session(),
	}
}

func listenAddr(port int) string {
	if port == 0 {
		return ""
	}
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
