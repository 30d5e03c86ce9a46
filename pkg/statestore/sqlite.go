package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/courierbot/courier/pkg/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS subscriptions (
	thread_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS locks (
	thread_id   TEXT PRIMARY KEY,
	token       TEXT NOT NULL,
	acquired_at INTEGER NOT NULL
);
`

// lockPollInterval is how often a blocked AcquireLock retries.
const lockPollInterval = 25 * time.Millisecond

// DefaultJanitorSchedule sweeps expired keys every five minutes.
const DefaultJanitorSchedule = "*/5 * * * *"

// SQLiteStore is a StateBackend on a single SQLite database, usable by
// several processes sharing one file. Locks live in the locks table, so
// mutual exclusion holds across processes; a janitor goroutine purges
// expired keys on a cron schedule.
type SQLiteStore struct {
	db     *sql.DB
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	now    func() time.Time
}

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithSQLiteLogger sets the janitor's logger.
func WithSQLiteLogger(log zerolog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.log = log }
}

// NewSQLiteStore opens (creating if needed) the database at path and
// starts the expired-key janitor. schedule is a cron expression;
// "" uses DefaultJanitorSchedule.
func NewSQLiteStore(path, schedule string, opts ...SQLiteOption) (*SQLiteStore, error) {
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	if !gronx.New().IsValid(schedule) {
		return nil, fmt.Errorf("statestore: invalid janitor schedule %q", schedule)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("statestore: open %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("statestore: init schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &SQLiteStore{
		db:     db,
		log:    zerolog.Nop(),
		cancel: cancel,
		done:   make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.janitor(ctx, schedule)
	return s, nil
}

// Close stops the janitor and closes the database.
func (s *SQLiteStore) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}

func (s *SQLiteStore) janitor(ctx context.Context, schedule string) {
	defer close(s.done)
	for {
		next, err := gronx.NextTick(schedule, false)
		if err != nil {
			s.log.Error().Err(err).Msg("janitor schedule broke, sweeper stopped")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at != 0 AND expires_at < ?`, s.now().Unix())
		if err != nil {
			s.log.Warn().Err(err).Msg("expired-key sweep failed")
			continue
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.log.Debug().Int64("removed", n).Msg("swept expired keys")
		}
	}
}

// Get returns a value; expired keys read as absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statestore: get %q: %w", key, err)
	}
	if expiresAt != 0 && s.now().Unix() > expiresAt {
		return "", false, nil
	}
	return value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry.
func (s *SQLiteStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("statestore: set %q: %w", key, err)
	}
	return nil
}

// AcquireLock polls until it wins the row for threadID or the context is
// cancelled.
func (s *SQLiteStore) AcquireLock(ctx context.Context, threadID string) (chat.Lock, error) {
	token := uuid.NewString()
	for {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO locks (thread_id, token, acquired_at) VALUES (?, ?, ?)`,
			threadID, token, s.now().Unix())
		if err != nil {
			return chat.Lock{}, fmt.Errorf("statestore: acquire lock %q: %w", threadID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return chat.Lock{ThreadID: threadID, Token: token}, nil
		}
		select {
		case <-ctx.Done():
			return chat.Lock{}, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// ReleaseLock frees the lock if this token still holds it.
func (s *SQLiteStore) ReleaseLock(ctx context.Context, lock chat.Lock) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE thread_id = ? AND token = ?`, lock.ThreadID, lock.Token)
	if err != nil {
		return fmt.Errorf("statestore: release lock %q: %w", lock.ThreadID, err)
	}
	return nil
}

// IsSubscribed reports the thread's subscription flag.
func (s *SQLiteStore) IsSubscribed(ctx context.Context, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM subscriptions WHERE thread_id = ?`, threadID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("statestore: subscription %q: %w", threadID, err)
	}
	return true, nil
}

// Subscribe sets the thread's subscription flag.
func (s *SQLiteStore) Subscribe(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO subscriptions (thread_id) VALUES (?)`, threadID)
	if err != nil {
		return fmt.Errorf("statestore: subscribe %q: %w", threadID, err)
	}
	return nil
}

// Unsubscribe clears the thread's subscription flag.
func (s *SQLiteStore) Unsubscribe(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("statestore: unsubscribe %q: %w", threadID, err)
	}
	return nil
}
