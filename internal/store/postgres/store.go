package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/0xlunar/sleepy-webhooks/internal/api"
	"github.com/0xlunar/sleepy-webhooks/internal/domain"
	"github.com/0xlunar/sleepy-webhooks/internal/pool"
)

// ErrDuplicateID is returned by Create when the id is already taken.
var ErrDuplicateID = errors.New("webhook id already exists")

// Store implements pool.ConfigResolver and api.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// WithOpTimeout bounds every statement issued by the store. 0 = no bound
// beyond the caller's context.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Init applies the embedded schema. It is safe to run on every start.
func (s *Store) Init(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// PingContext checks database connectivity.
func (s *Store) PingContext(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Resolve returns the configuration for id, or domain.ErrConfigNotFound.
func (s *Store) Resolve(ctx context.Context, id string) (domain.WebhookConfig, error) {
	return s.Get(ctx, id)
}

// Get returns a webhook configuration by its ID.
func (s *Store) Get(ctx context.Context, id string) (domain.WebhookConfig, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cfg, err := scanWebhook(s.db.QueryRowContext(ctx, queryGetWebhook, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookConfig{}, domain.ErrConfigNotFound
		}
		return domain.WebhookConfig{}, fmt.Errorf("get webhook %s: %w", id, err)
	}
	return cfg, nil
}

// Create inserts a new configuration. The caller assigns ID and timestamps.
// Returns ErrDuplicateID if the id already exists.
func (s *Store) Create(ctx context.Context, cfg domain.WebhookConfig) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertWebhook,
		cfg.ID,
		cfg.Name,
		cfg.DelaySeconds,
		pq.Array(nonNil(cfg.InstantEndpoints)),
		pq.Array(nonNil(cfg.DelayedEndpoints)),
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// List returns configurations ordered by creation time, paginated by limit
// and offset.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.WebhookConfig, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListWebhooks, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var result []domain.WebhookConfig
	for rows.Next() {
		cfg, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		result = append(result, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateName(ctx context.Context, id, name string) error {
	return s.update(ctx, "update name", queryUpdateName, name, id)
}

func (s *Store) UpdateDelaySeconds(ctx context.Context, id string, delaySeconds int64) error {
	return s.update(ctx, "update delay", queryUpdateDelaySeconds, delaySeconds, id)
}

func (s *Store) AppendInstantEndpoint(ctx context.Context, id, url string) error {
	return s.update(ctx, "append instant endpoint", queryAppendInstant, url, id)
}

func (s *Store) RemoveInstantEndpoint(ctx context.Context, id, url string) error {
	return s.update(ctx, "remove instant endpoint", queryRemoveInstant, url, id)
}

func (s *Store) AppendDelayedEndpoint(ctx context.Context, id, url string) error {
	return s.update(ctx, "append delayed endpoint", queryAppendDelayed, url, id)
}

func (s *Store) RemoveDelayedEndpoint(ctx context.Context, id, url string) error {
	return s.update(ctx, "remove delayed endpoint", queryRemoveDelayed, url, id)
}

// Delete removes a configuration. Items already buffered for it will fail
// their next lookup.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, "delete webhook", queryDeleteWebhook, id)
}

// update runs a single-row statement and maps zero affected rows to
// domain.ErrConfigNotFound.
func (s *Store) update(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return domain.ErrConfigNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (domain.WebhookConfig, error) {
	var cfg domain.WebhookConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.Name,
		&cfg.DelaySeconds,
		pq.Array(&cfg.InstantEndpoints),
		pq.Array(&cfg.DelayedEndpoints),
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	return cfg, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	errStr := err.Error()
	return strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key")
}

// Compile-time interface assertions
var (
	_ pool.ConfigResolver = (*Store)(nil)
	_ api.Store           = (*Store)(nil)
)
