package wizard

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/incidenthub/incidenthub/internal/config"
	"github.com/incidenthub/incidenthub/pkg/cli"
)

func TestRunWritesConfig(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "incidenthub.json")

	input := strings.Join([]string{
		":9090",          // listen address
		"admin@acme.com", // admin email
		"Ada Admin",      // admin display name
		"s3cret!",        // admin password
		"1",              // storage driver choice -> sqlite
		"acme.db",        // sqlite path
	}, "\n") + "\n"

	p := &cli.Prompter{In: strings.NewReader(input), Out: &bytes.Buffer{}}
	w := New(p)

	if err := w.Run(out); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg config.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Auth.InitialAdmin == nil || cfg.Auth.InitialAdmin.Email != "admin@acme.com" {
		t.Errorf("InitialAdmin = %+v", cfg.Auth.InitialAdmin)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "acme.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("expected a generated JWT secret")
	}
}

func TestRunDefaultsUsesEnv(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "incidenthub.json")

	t.Setenv("INCIDENTHUB_ADDR", ":7070")
	t.Setenv("INCIDENTHUB_ADMIN_EMAIL", "ops@acme.com")
	t.Setenv("INCIDENTHUB_ADMIN_PASSWORD", "hunter2")
	t.Setenv("INCIDENTHUB_STORAGE_DRIVER", "sqlite")
	t.Setenv("INCIDENTHUB_STORAGE_DSN", "")

	p := &cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	w := New(p)

	if err := w.RunDefaults(out); err != nil {
		t.Fatalf("RunDefaults: %v", err)
	}

	var cfg config.Config
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Auth.InitialAdmin.Password != "hunter2" {
		t.Errorf("InitialAdmin.Password = %q", cfg.Auth.InitialAdmin.Password)
	}
	if cfg.Storage.DSN != "/var/lib/incidenthub/incidenthub.db" {
		t.Errorf("Storage.DSN = %q", cfg.Storage.DSN)
	}
}

func TestRunDefaultsRequiresDSNForPostgres(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "incidenthub.json")

	t.Setenv("INCIDENTHUB_STORAGE_DRIVER", "postgres")
	t.Setenv("INCIDENTHUB_STORAGE_DSN", "")

	p := &cli.Prompter{In: strings.NewReader(""), Out: &bytes.Buffer{}}
	w := New(p)

	if err := w.RunDefaults(out); err == nil {
		t.Fatal("expected an error when postgres DSN is missing")
	}
}
