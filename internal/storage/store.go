package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"insiderwatch/internal/config"
	"insiderwatch/internal/model"
)

// Store is the durable sink behind the in-memory stores. A disabled storage
// section yields a nil Store; callers treat nil as "no persistence".
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlertRecord(ctx context.Context, rec model.AlertRecord) error
	SaveIncident(ctx context.Context, inc model.Incident) error
	SaveAnalysisRun(ctx context.Context, summary model.Summary) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
