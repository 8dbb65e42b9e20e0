package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"insiderwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/insiderwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_records (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			user_id TEXT,
			read BOOLEAN NOT NULL,
			metadata_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_records_created ON alert_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			alert_id INTEGER,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			notes TEXT,
			timeline_json JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			data_source TEXT NOT NULL,
			file_type TEXT NOT NULL,
			total_users INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			anomaly_rate DOUBLE PRECISION NOT NULL,
			avg_anomaly_score DOUBLE PRECISION NOT NULL,
			risk_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analysis_runs_ts ON analysis_runs(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlertRecord(ctx context.Context, rec model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_records (id, created_at, updated_at, type, severity, message, user_id, read, metadata_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT(id) DO UPDATE SET updated_at=EXCLUDED.updated_at, read=EXCLUDED.read`,
		rec.ID,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.Type,
		rec.Severity,
		rec.Message,
		rec.UserID,
		rec.Read,
		encodeJSON(rec.Metadata),
	)
	return err
}

func (s *postgresStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, created_at, updated_at, alert_id, user_id, title, severity, status, notes, timeline_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=EXCLUDED.updated_at,
			status=EXCLUDED.status,
			notes=EXCLUDED.notes,
			timeline_json=EXCLUDED.timeline_json`,
		inc.ID,
		inc.CreatedAt.UTC(),
		inc.UpdatedAt.UTC(),
		inc.AlertID,
		inc.User,
		inc.Title,
		inc.Severity,
		string(inc.Status),
		inc.Notes,
		encodeJSON(inc.Timeline),
	)
	return err
}

func (s *postgresStore) SaveAnalysisRun(ctx context.Context, summary model.Summary) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (ts, data_source, file_type, total_users, anomalies, anomaly_rate, avg_anomaly_score, risk_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		nowUTC(),
		summary.DataSource,
		summary.FileType,
		summary.TotalUsers,
		summary.AnomaliesDetected,
		summary.AnomalyRate,
		summary.AvgAnomalyScore,
		encodeJSON(summary.RiskDistribution),
	)
	return err
}
