package connection

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/tokmesh-cts/internal/core/domain"
	"github.com/yndnr/tokmesh-cts/internal/server/config"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestOpen_EmbeddedPersistsAcrossConnections(t *testing.T) {
	cfg := config.Default().Directory
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	c, err := Open(cfg, quiet)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess, err := domain.NewSession("id=demo,ou=user,dc=example", time.Hour, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Sessions().Store(context.Background(), sess); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	c, err = Open(cfg, quiet)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	got, err := c.Sessions().GetBySessionID(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UserID != sess.UserID {
		t.Fatalf("GetBySessionID() = %+v, want stored session", got)
	}
	tok, err := c.Adapter().Read(context.Background(), sess.ID)
	if err != nil || tok == nil || tok.Type() != domain.TokenTypeSession {
		t.Fatalf("Read() = %v, %v", tok, err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default().Directory
	cfg.Backend = "redis"
	if _, err := Open(cfg, quiet); err == nil {
		t.Fatal("Open() should fail for an unknown backend")
	}
}

func TestOpen_LDAPIsLazy(t *testing.T) {
	cfg := config.Default().Directory
	cfg.Backend = config.BackendLDAP
	cfg.URL = "ldap://127.0.0.1:1"
	cfg.DialTimeout = 200 * time.Millisecond

	c, err := Open(cfg, quiet)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer c.Close()
	if _, err := c.Adapter().Read(context.Background(), "x"); err == nil {
		t.Fatal("Read() against a closed port should fail")
	}
}
