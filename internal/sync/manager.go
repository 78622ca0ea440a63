package sync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Publisher is the slice of the event bus the dispatcher needs.
type Publisher interface {
	EnsureStream(ctx context.Context) error
	Publish(subject string, payload []byte, msgID string) error
}

// TokenRefresher fetches a fresh provider access token for an account.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, accountID string) (string, error)
}

// Manager owns the continuous per-account sync workers and the outbox
// dispatcher.
type Manager struct {
	runner   *Runner
	interval time.Duration
	tokens   TokenRefresher

	runners      map[string]context.CancelFunc
	runnersMutex sync.RWMutex
}

// NewManager creates a sync manager. tokens may be nil when accounts
// carry long-lived tokens.
func NewManager(runner *Runner, interval time.Duration, tokens TokenRefresher) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		runner:   runner,
		interval: interval,
		tokens:   tokens,
		runners:  make(map[string]context.CancelFunc),
	}
}

// StartSync begins continuous syncing for an account: one immediate
// pass, then a delta pass every interval.
func (m *Manager) StartSync(ctx context.Context, accountID string) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[accountID]; exists {
		return fmt.Errorf("sync already running for account %s", accountID)
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	m.runners[accountID] = cancel

	go func() {
		log.Printf("sync start: %s", accountID)
		m.runLoop(runnerCtx, accountID)

		m.runnersMutex.Lock()
		delete(m.runners, accountID)
		m.runnersMutex.Unlock()
		log.Printf("sync stop: %s", accountID)
	}()

	return nil
}

func (m *Manager) runLoop(ctx context.Context, accountID string) {
	m.syncOnce(ctx, accountID)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.syncOnce(ctx, accountID)
		}
	}
}

func (m *Manager) syncOnce(ctx context.Context, accountID string) {
	if m.tokens != nil {
		token, err := m.tokens.RefreshAccessToken(ctx, accountID)
		if err != nil {
			log.Printf("sync: token refresh for account %s: %v", accountID, err)
		} else if err := m.runner.Store.UpdateAccessToken(ctx, accountID, token); err != nil {
			log.Printf("sync: storing refreshed token for account %s: %v", accountID, err)
		}
	}

	if _, err := m.runner.SyncAccount(ctx, accountID); err != nil {
		log.Printf("sync error %s: %v", accountID, err)
	}
}

// StopSync cancels the continuous sync for an account.
func (m *Manager) StopSync(accountID string) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	cancel, exists := m.runners[accountID]
	if !exists {
		return fmt.Errorf("no sync running for account %s", accountID)
	}

	cancel()
	delete(m.runners, accountID)
	return nil
}

// IsRunning reports whether a continuous sync is active for an account.
func (m *Manager) IsRunning(accountID string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[accountID]
	return exists
}

// StopAll cancels every running sync.
func (m *Manager) StopAll() {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	for accountID, cancel := range m.runners {
		log.Printf("stopping sync for %s", accountID)
		cancel()
	}
	m.runners = make(map[string]context.CancelFunc)
}

// DispatchOutbox continuously drains the outbox to the publisher. Runs
// until ctx is cancelled; failed publishes are retried with backoff.
func (m *Manager) DispatchOutbox(ctx context.Context, publisher Publisher) {
	if err := publisher.EnsureStream(ctx); err != nil {
		log.Printf("dispatch: failed to ensure stream: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := m.runner.Store.DequeueOutbox(ctx, 100)
		if err != nil {
			log.Printf("dispatch: dequeue error: %v", err)
			time.Sleep(time.Second)
			continue
		}

		if len(messages) == 0 {
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, msg := range messages {
			if err := publisher.Publish(msg.Subject, msg.Payload, msg.MsgID); err != nil {
				log.Printf("dispatch: publish %d failed: %v", msg.ID, err)
				_ = m.runner.Store.MarkOutboxRetry(ctx, msg.ID, 10*time.Second)
				continue
			}
			if err := m.runner.Store.MarkPublished(ctx, msg.ID); err != nil {
				log.Printf("dispatch: mark published %d: %v", msg.ID, err)
			}
		}
	}
}
