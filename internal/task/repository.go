package task

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

const progressIntervalKey = "progress_interval_ms"

// Store keeps the id <-> handle mapping of active downloads in memory and
// mirrors every change to sqlite. It is not safe for concurrent use; the
// Manager serializes access.
//
// Writes ignore cancellation of the caller's context: once memory has
// changed, the row must follow even if the request that caused it is gone.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger

	idToHandle      map[string]string
	handleToConfig  map[string]TaskConfig
	defaultInterval time.Duration
}

func NewStore(db *sql.DB, defaultInterval time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		db:              db,
		logger:          logger.With().Str("component", "store").Logger(),
		idToHandle:      make(map[string]string),
		handleToConfig:  make(map[string]TaskConfig),
		defaultInterval: defaultInterval,
	}
}

// LoadAll rebuilds both indices from the database and returns a copy of the
// handle -> config index.
func (s *Store) LoadAll(ctx context.Context) (map[string]TaskConfig, error) {
	query := `SELECT id, handle, source_url, destination_path, metadata, reported_begin, created_at FROM tasks ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	idToHandle := make(map[string]string)
	handleToConfig := make(map[string]TaskConfig)
	for rows.Next() {
		var cfg TaskConfig
		var handle string
		if err := rows.Scan(&cfg.ID, &handle, &cfg.SourceURL, &cfg.DestinationPath, &cfg.Metadata, &cfg.ReportedBegin, &cfg.CreatedAt); err != nil {
			return nil, err
		}
		idToHandle[cfg.ID] = handle
		handleToConfig[handle] = cfg
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.idToHandle = idToHandle
	s.handleToConfig = handleToConfig

	out := make(map[string]TaskConfig, len(handleToConfig))
	for h, cfg := range handleToConfig {
		out[h] = cfg
	}
	return out, nil
}

// Put records cfg under handle. A previous handle for the same id is dropped.
func (s *Store) Put(ctx context.Context, handle string, cfg TaskConfig) {
	if old, ok := s.idToHandle[cfg.ID]; ok && old != handle {
		delete(s.handleToConfig, old)
	}
	if prev, ok := s.handleToConfig[handle]; ok && prev.ID != cfg.ID {
		delete(s.idToHandle, prev.ID)
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	s.idToHandle[cfg.ID] = handle
	s.handleToConfig[handle] = cfg

	if err := s.persistPut(context.WithoutCancel(ctx), handle, cfg); err != nil {
		s.logger.Error().Err(err).Str("id", cfg.ID).Str("handle", handle).Msg("Failed to persist task")
	}
}

func (s *Store) persistPut(ctx context.Context, handle string, cfg TaskConfig) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? OR handle = ?`, cfg.ID, handle); err != nil {
		return err
	}
	query := `INSERT INTO tasks (id, handle, source_url, destination_path, metadata, reported_begin, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, cfg.ID, handle, cfg.SourceURL, cfg.DestinationPath, cfg.Metadata, cfg.ReportedBegin, cfg.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes the task behind handle. Unknown handles are ignored.
func (s *Store) Remove(ctx context.Context, handle string) {
	cfg, ok := s.handleToConfig[handle]
	if !ok {
		return
	}
	delete(s.handleToConfig, handle)
	delete(s.idToHandle, cfg.ID)

	if _, err := s.db.ExecContext(context.WithoutCancel(ctx), `DELETE FROM tasks WHERE handle = ?`, handle); err != nil {
		s.logger.Error().Err(err).Str("id", cfg.ID).Str("handle", handle).Msg("Failed to delete task")
	}
}

func (s *Store) LookupByHandle(handle string) (TaskConfig, bool) {
	cfg, ok := s.handleToConfig[handle]
	return cfg, ok
}

func (s *Store) LookupByID(id string) (string, bool) {
	h, ok := s.idToHandle[id]
	return h, ok
}

// MarkReportedBegin flips ReportedBegin for handle and persists it.
func (s *Store) MarkReportedBegin(ctx context.Context, handle string) {
	cfg, ok := s.handleToConfig[handle]
	if !ok || cfg.ReportedBegin {
		return
	}
	cfg.ReportedBegin = true
	s.handleToConfig[handle] = cfg

	if _, err := s.db.ExecContext(context.WithoutCancel(ctx), `UPDATE tasks SET reported_begin = 1 WHERE handle = ?`, handle); err != nil {
		s.logger.Error().Err(err).Str("id", cfg.ID).Msg("Failed to persist begin flag")
	}
}

// Len returns the number of active tasks.
func (s *Store) Len() int {
	return len(s.handleToConfig)
}

// ProgressInterval returns the persisted progress interval, or the default
// when none has been stored.
func (s *Store) ProgressInterval(ctx context.Context) time.Duration {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, progressIntervalKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return s.defaultInterval
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read progress interval")
		return s.defaultInterval
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms <= 0 {
		s.logger.Warn().Str("value", value).Msg("Ignoring invalid progress interval")
		return s.defaultInterval
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Store) SetProgressInterval(ctx context.Context, d time.Duration) {
	query := `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(context.WithoutCancel(ctx), query, progressIntervalKey, strconv.FormatInt(d.Milliseconds(), 10)); err != nil {
		s.logger.Error().Err(err).Msg("Failed to persist progress interval")
	}
}
