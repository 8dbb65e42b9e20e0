package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"insiderwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:insiderwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alert_records (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			user_id TEXT,
			read INTEGER NOT NULL,
			metadata_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_records_created ON alert_records(created_at)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			alert_id INTEGER,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			notes TEXT,
			timeline_json TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			data_source TEXT NOT NULL,
			file_type TEXT NOT NULL,
			total_users INTEGER NOT NULL,
			anomalies INTEGER NOT NULL,
			anomaly_rate REAL NOT NULL,
			avg_anomaly_score REAL NOT NULL,
			risk_json TEXT NOT NULL
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

func (s *sqliteStore) SaveAlertRecord(ctx context.Context, rec model.AlertRecord) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alert_records (id, created_at, updated_at, type, severity, message, user_id, read, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at=excluded.updated_at, read=excluded.read`,
		rec.ID,
		rec.CreatedAt.UTC(),
		rec.UpdatedAt.UTC(),
		rec.Type,
		rec.Severity,
		rec.Message,
		rec.UserID,
		boolInt(rec.Read),
		encodeJSON(rec.Metadata),
	)
	return err
}

func (s *sqliteStore) SaveIncident(ctx context.Context, inc model.Incident) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, created_at, updated_at, alert_id, user_id, title, severity, status, notes, timeline_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			updated_at=excluded.updated_at,
			status=excluded.status,
			notes=excluded.notes,
			timeline_json=excluded.timeline_json`,
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

func (s *sqliteStore) SaveAnalysisRun(ctx context.Context, summary model.Summary) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (ts, data_source, file_type, total_users, anomalies, anomaly_rate, avg_anomaly_score, risk_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
