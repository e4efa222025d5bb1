package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/proverctl/internal/protocol/session"
	"github.com/danmuck/proverctl/internal/prover"
	"github.com/danmuck/proverctl/internal/testutil/testlog"
)

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proverctl.toml")
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "init", "-o", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Fatalf("unexpected init output: %q", out.String())
	}
	return path
}

func TestResolveConfigPrecedence(t *testing.T) {
	testlog.Start(t)
	path := writeTemplate(t)
	t.Setenv("PROVERCTL_PROVER_ID", "from-env")
	t.Setenv("HASHDB_PORT", "6000")

	var f rootFlags
	cmd := buildRootCommand(&f)
	if err := cmd.ParseFlags([]string{"-c", path, "--hashdb-port", "7000", "--outbound-overflow", "drop"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	cfg, err := resolveConfig(cmd, &f)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.ProverID != "from-env" {
		t.Fatalf("env must win over file, got %q", cfg.ProverID)
	}
	if cfg.HashDBPort != 7000 {
		t.Fatalf("flag must win over env, got %d", cfg.HashDBPort)
	}
	if cfg.ExecutorPort != 50071 {
		t.Fatalf("file value lost, got %d", cfg.ExecutorPort)
	}
	if cfg.ProverName != prover.DefaultProverName {
		t.Fatalf("unset flag must not override, got %q", cfg.ProverName)
	}
	if cfg.ServiceConfig().Session.OverflowPolicy != session.OverflowDrop {
		t.Fatalf("unexpected overflow policy: %q", cfg.OutboundOverflow)
	}
}

func TestResolveConfigRejectsBadURL(t *testing.T) {
	testlog.Start(t)
	var f rootFlags
	cmd := buildRootCommand(&f)
	if err := cmd.ParseFlags([]string{"--aggregator-url", "ftp://x:1"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if _, err := resolveConfig(cmd, &f); !errors.Is(err, prover.ErrInvalidAggregatorURL) {
		t.Fatalf("expected ErrInvalidAggregatorURL, got %v", err)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	testlog.Start(t)
	path := writeTemplate(t)

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "validate", "-i", path})
	if err := root.Execute(); err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.HasPrefix(out.String(), "validated config") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	root = newRootCommand()
	root.SetArgs([]string{"config", "init", "-o", path})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
}
