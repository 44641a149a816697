package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// ErrNoCertsFound is returned when a PEM bundle holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM file")

// Roots is a reloadable set of trusted root certificates: the system pool
// extended with the certificates of one CA bundle file.
type Roots struct {
	path   string
	logger *slog.Logger
	pool   atomic.Pointer[x509.CertPool]
}

// Load reads the CA bundle at path. An empty path trusts the system roots
// only.
func Load(path string, logger *slog.Logger) (*Roots, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Roots{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the CA bundle path.
func (r *Roots) Path() string { return r.path }

// Reload rebuilds the pool from the bundle. On error the previous pool
// stays in use.
func (r *Roots) Reload() error {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if r.path != "" {
		data, err := os.ReadFile(r.path)
		if err != nil {
			return fmt.Errorf("tlsroots: read %s: %w", r.path, err)
		}
		n, err := appendPEM(pool, data)
		if err != nil {
			return fmt.Errorf("tlsroots: %s: %w", r.path, err)
		}
		r.logger.Info("trust roots loaded", "ca_file", r.path, "certificates", n)
	}
	r.pool.Store(pool)
	return nil
}

// Pool returns the current pool.
func (r *Roots) Pool() *x509.CertPool { return r.pool.Load() }

// ClientConfig returns a TLS client configuration trusting the current
// pool.
func (r *Roots) ClientConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    r.Pool(),
		MinVersion: tls.VersionTLS12,
	}
}

func appendPEM(pool *x509.CertPool, data []byte) (int, error) {
	var added int
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return added, fmt.Errorf("parse certificate: %w", err)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return 0, ErrNoCertsFound
	}
	return added, nil
}
