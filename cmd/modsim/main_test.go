package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-modsim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-modsim/internal/setup"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeSetup(t *testing.T, modbusPort int) string {
	t.Helper()
	doc := fmt.Sprintf(`{
  "server_list": {"server": {"comm": "tcp", "framer": "socket", "host": "127.0.0.1", "port": %d}},
  "device_list": {"device": {"setup": {"hr_size": 4}}}
}`, modbusPort)
	path := filepath.Join(t.TempDir(), "setup.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "modsim "+version) {
		t.Errorf("version output = %q", out.String())
	}
}

func TestRootCommand_BadFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--no-such-flag"})
	if err := cmd.Execute(); err == nil {
		t.Error("Execute() expected error for unknown flag, got nil")
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("MODSIM_CONFIG", "")
	if got := resolveConfigPath("/etc/modsim.yaml"); got != "/etc/modsim.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q", got)
	}

	t.Setenv("MODSIM_CONFIG", "/from/env.yaml")
	if got := resolveConfigPath(""); got != "/from/env.yaml" {
		t.Errorf("resolveConfigPath(env) = %q", got)
	}
	if got := resolveConfigPath("/flag.yaml"); got != "/flag.yaml" {
		t.Errorf("flag should win over env, got %q", got)
	}
}

func TestApplyFlags(t *testing.T) {
	set := map[string]bool{"server": true, "http-port": true, "log-file": true}
	opts := &options{
		server:   "rtu",
		device:   "ignored",
		httpPort: 9999,
		logFile:  "/tmp/modsim-test.log",
		changed:  func(name string) bool { return set[name] },
	}
	cfg := config.Default()
	applyFlags(cfg, opts)

	if cfg.Simulator.Server != "rtu" {
		t.Errorf("Simulator.Server = %q, want rtu", cfg.Simulator.Server)
	}
	if cfg.Simulator.Device != "device" {
		t.Errorf("unset flag overrode Simulator.Device: %q", cfg.Simulator.Device)
	}
	if cfg.HTTP.Port != 9999 {
		t.Errorf("HTTP.Port = %d, want 9999", cfg.HTTP.Port)
	}
	if cfg.Logging.Output != "file" || cfg.Logging.File.Path != "/tmp/modsim-test.log" {
		t.Errorf("Logging = %+v, want file output", cfg.Logging)
	}
}

// countingListener accepts and drops connections, counting them.
func countingListener(t *testing.T) (int, *atomic.Int32) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	var accepted atomic.Int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port, &accepted
}

func TestRun_Errors(t *testing.T) {
	setupPath := writeSetup(t, freePort(t))

	brokerPort, brokerConns := countingListener(t)
	withMQTT := filepath.Join(t.TempDir(), "modsim.yaml")
	cfgDoc := fmt.Sprintf(`simulator:
  setup_file: %q
  server: nope
mqtt:
  enabled: true
  broker:
    host: 127.0.0.1
    port: %d
`, setupPath, brokerPort)
	if err := os.WriteFile(withMQTT, []byte(cfgDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		opts    options
		changed []string
		wantCfg bool
	}{
		{
			name: "missing config file",
			opts: options{configPath: filepath.Join(t.TempDir(), "absent.yaml")},
		},
		{
			name:    "invalid port flag",
			opts:    options{setupFile: setupPath, httpPort: 70000},
			changed: []string{"setup", "http-port"},
		},
		{
			name:    "missing setup file",
			opts:    options{setupFile: filepath.Join(t.TempDir(), "absent.json")},
			changed: []string{"setup"},
			wantCfg: true,
		},
		{
			name:    "unknown server profile",
			opts:    options{setupFile: setupPath, server: "nope"},
			changed: []string{"setup", "server"},
			wantCfg: true,
		},
		{
			name:    "unknown custom actions",
			opts:    options{setupFile: setupPath, customActions: "nope"},
			changed: []string{"setup", "custom-actions"},
			wantCfg: true,
		},
		{
			name:    "bad setup with MQTT enabled",
			opts:    options{configPath: withMQTT},
			wantCfg: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MODSIM_CONFIG", "")
			opts := tt.opts
			opts.changed = func(name string) bool {
				if name == "log-level" {
					return true
				}
				for _, c := range tt.changed {
					if c == name {
						return true
					}
				}
				return false
			}
			opts.logLevel = "error"

			err := run(context.Background(), &opts)
			if err == nil {
				t.Fatal("run() expected error, got nil")
			}
			if tt.wantCfg && !errors.Is(err, setup.ErrConfig) {
				t.Errorf("run() error = %v, want setup.ErrConfig", err)
			}
		})
	}

	if n := brokerConns.Load(); n != 0 {
		t.Errorf("broker saw %d connections, want none before the setup is valid", n)
	}
}

func TestRun_CleanShutdown(t *testing.T) {
	t.Setenv("MODSIM_CONFIG", "")
	opts := &options{
		setupFile: writeSetup(t, freePort(t)),
		httpHost:  "127.0.0.1",
		httpPort:  freePort(t),
		logLevel:  "error",
	}
	opts.changed = func(name string) bool {
		switch name {
		case "setup", "http-host", "http-port", "log-level":
			return true
		}
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		t.Errorf("run() error = %v, want nil on cancellation", err)
	}
}
