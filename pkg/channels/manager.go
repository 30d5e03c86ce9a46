// Package channels implements the platform adapters: Slack, Discord,
// Telegram and a local console. Each adapter is independent glue that
// translates between its platform's wire formats and the canonical
// model; the dispatcher only ever sees the chat.Adapter interface.
package channels

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
)

// Runner is an adapter with a lifecycle: it connects to its platform on
// Start and pumps events into the dispatcher until stopped.
type Runner interface {
	chat.Adapter
	Start(ctx context.Context) error
	Stop() error
}

// Manager starts and stops a set of channel runners together.
type Manager struct {
	runners []Runner
	log     zerolog.Logger
}

// NewManager creates an empty manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{log: log.With().Str("component", "channels").Logger()}
}

// Add appends a runner.
func (m *Manager) Add(r Runner) {
	m.runners = append(m.runners, r)
}

// Runners returns the managed runners in add order.
func (m *Manager) Runners() []Runner { return m.runners }

// StartAll starts every runner; the first failure stops the already
// started ones and is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	var started []Runner
	for _, r := range m.runners {
		if err := r.Start(ctx); err != nil {
			for _, s := range started {
				s.Stop()
			}
			return fmt.Errorf("channels: start %s: %w", r.Name(), err)
		}
		m.log.Info().Str("adapter", r.Name()).Msg("channel started")
		started = append(started, r)
	}
	return nil
}

// StopAll stops every runner, logging failures and continuing.
func (m *Manager) StopAll() {
	for _, r := range m.runners {
		if err := r.Stop(); err != nil {
			m.log.Warn().Err(err).Str("adapter", r.Name()).Msg("channel stop failed")
		}
	}
}
