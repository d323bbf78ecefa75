// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultNotifyTimeout = 5 * time.Second

// Manager owns the registered connectors. Notification fan-out is
// fire-and-forget with a bounded wait per connector: a slow or broken
// integration is logged and skipped, it can never stall phase completion.
type Manager struct {
	mu            sync.RWMutex
	connectors    map[string]Connector
	logger        *slog.Logger
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		connectors:    make(map[string]Connector),
		logger:        logger,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// Register connects and registers a connector. A connector that fails to
// connect is still registered so Status reports it; it just stays unusable
// until a later Connect succeeds.
func (m *Manager) Register(ctx context.Context, conn Connector) Response {
	resp := conn.Connect(ctx)
	if !resp.Success {
		m.logger.Warn("connector connect failed",
			"connector", conn.Name(),
			"type", conn.Type(),
			"error", resp.Error,
		)
	} else {
		m.logger.Info("connector registered",
			"connector", conn.Name(),
			"type", conn.Type(),
		)
	}

	m.mu.Lock()
	m.connectors[conn.Name()] = conn
	m.mu.Unlock()

	return resp
}

func (m *Manager) Get(name string) (Connector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connectors[name]
	return conn, ok
}

// ByType returns the registered connectors of the given type.
func (m *Manager) ByType(ctype Type) []Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Connector
	for _, conn := range m.connectors {
		if conn.Type() == ctype {
			out = append(out, conn)
		}
	}
	return out
}

// Status health-checks every connector and returns the envelope per name.
func (m *Manager) Status(ctx context.Context) map[string]Response {
	m.mu.RLock()
	names := make([]Connector, 0, len(m.connectors))
	for _, conn := range m.connectors {
		names = append(names, conn)
	}
	m.mu.RUnlock()

	out := make(map[string]Response, len(names))
	for _, conn := range names {
		out[conn.Name()] = conn.HealthCheck(ctx)
	}
	return out
}

// Notify sends payload to every connector asynchronously. Failures are
// logged and dropped; the caller never observes them.
func (m *Manager) Notify(payload map[string]any) {
	m.mu.RLock()
	conns := make([]Connector, 0, len(m.connectors))
	for _, conn := range m.connectors {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		conn := conn
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), m.notifyTimeout)
			defer cancel()

			resp := conn.Send(ctx, payload)
			if !resp.Success {
				m.logger.Warn("connector notification failed",
					"connector", conn.Name(),
					"error", resp.Error,
				)
			}
		}()
	}
}

// Shutdown waits for in-flight notifications and disconnects everything.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conn := range m.connectors {
		if resp := conn.Disconnect(ctx); !resp.Success {
			m.logger.Warn("connector disconnect failed",
				"connector", conn.Name(),
				"error", resp.Error,
			)
		}
	}
}
