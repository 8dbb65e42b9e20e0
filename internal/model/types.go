package model

import "time"

type RiskLevel string

const (
	RiskHigh   RiskLevel = "High"
	RiskMedium RiskLevel = "Medium"
	RiskLow    RiskLevel = "Low"
)

type Prediction string

const (
	PredictionAnomaly Prediction = "Anomaly"
	PredictionNormal  Prediction = "Normal"
)

// FeatureMap holds per-user behavioral feature values keyed by feature name.
// Absent features read as zero.
type FeatureMap map[string]float64

func (f FeatureMap) Get(name string) float64 {
	if f == nil {
		return 0
	}
	return f[name]
}

// UserRecord is one scored user as produced by the analysis backend.
type UserRecord struct {
	UserID       string     `json:"user_id"`
	AnomalyScore float64    `json:"anomaly_score"`
	Prediction   Prediction `json:"prediction"`
	RiskLevel    RiskLevel  `json:"risk_level"`
	Features     FeatureMap `json:"features"`
}

// Alert is one derived security alert. Ids are assigned per derivation pass
// and are not stable across datasets.
type Alert struct {
	ID           int       `json:"id"`
	Timestamp    string    `json:"timestamp"`
	FiredAt      time.Time `json:"fired_at"`
	User         string    `json:"user"`
	Event        string    `json:"event"`
	Severity     string    `json:"severity"`
	Score        string    `json:"score"`
	Description  string    `json:"description"`
	RiskFactors  []string  `json:"riskFactors"`
	AnomalyScore float64   `json:"anomalyScore"`
}

type RiskDistribution struct {
	High   int `json:"High"`
	Medium int `json:"Medium"`
	Low    int `json:"Low"`
}

type Summary struct {
	TotalUsers        int              `json:"total_users"`
	AnomaliesDetected int              `json:"anomalies_detected"`
	AnomalyRate       float64          `json:"anomaly_rate"`
	AvgAnomalyScore   float64          `json:"avg_anomaly_score"`
	FileType          string           `json:"file_type"`
	DataSource        string           `json:"data_source"`
	RiskDistribution  RiskDistribution `json:"risk_distribution"`
}

type AnalysisResult struct {
	Users   []UserRecord `json:"users"`
	Summary Summary      `json:"summary"`
}

// FileInfo describes an uploaded CSV before analysis.
type FileInfo struct {
	Filename      string              `json:"filename"`
	Rows          int                 `json:"rows"`
	Columns       int                 `json:"columns"`
	ColumnNames   []string            `json:"column_names"`
	SampleData    []map[string]string `json:"sample_data"`
	MissingValues map[string]int      `json:"missing_values"`
	UploadTime    time.Time           `json:"upload_time"`
}

// AlertRecord is a persisted notification, distinct from the derived Alert:
// records survive dataset replacement and carry read state.
type AlertRecord struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Severity  string            `json:"severity"`
	Message   string            `json:"message"`
	UserID    string            `json:"user_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type IncidentStatus string

const (
	StatusNew           IncidentStatus = "new"
	StatusInvestigating IncidentStatus = "investigating"
	StatusContained     IncidentStatus = "contained"
	StatusResolved      IncidentStatus = "resolved"
	StatusFalsePositive IncidentStatus = "false_positive"
)

func (s IncidentStatus) Valid() bool {
	switch s {
	case StatusNew, StatusInvestigating, StatusContained, StatusResolved, StatusFalsePositive:
		return true
	}
	return false
}

type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Analyst   string    `json:"analyst"`
}

type Incident struct {
	ID        string          `json:"id"`
	AlertID   int             `json:"alert_id,omitempty"`
	User      string          `json:"user"`
	Title     string          `json:"title"`
	Severity  string          `json:"severity"`
	Status    IncidentStatus  `json:"status"`
	Notes     string          `json:"notes,omitempty"`
	Timeline  []TimelineEntry `json:"timeline"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
