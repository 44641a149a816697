package cts

import (
	"context"
	"log/slog"
	"sync"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// ConnectionManager owns the connection shared by adapter operations.
//
// Acquire validates the held connection and replaces it when the factory
// reports it unusable. Only that step is serialised; callers run their
// request on the returned connection without holding the lock.
type ConnectionManager struct {
	factory directory.Factory
	logger  *slog.Logger

	mu     sync.Mutex
	conn   directory.Conn
	closed bool
}

// NewConnectionManager creates a manager. No connection is opened until
// the first Acquire.
func NewConnectionManager(factory directory.Factory, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{factory: factory, logger: logger}
}

// Acquire returns a valid connection, replacing the held one if needed.
func (m *ConnectionManager) Acquire(ctx context.Context) (directory.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, directory.NewError(directory.ServerDown, "connection manager closed")
	}
	if m.conn != nil && m.factory.IsValid(m.conn) {
		return m.conn, nil
	}
	if m.conn != nil {
		m.logger.Info("replacing invalid directory connection")
		_ = m.conn.Close()
		m.conn = nil
	}

	conn, err := m.factory.Create(ctx)
	if err != nil {
		return nil, err
	}
	m.conn = conn
	return conn, nil
}

// Close releases the held connection. Acquire fails afterwards.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}
