package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"insiderwatch/internal/alerts"
	"insiderwatch/internal/analysis"
	"insiderwatch/internal/config"
	"insiderwatch/internal/incidents"
	"insiderwatch/internal/model"
	"insiderwatch/internal/storage"
	"insiderwatch/internal/threat"
)

type Server struct {
	cfg       *config.Manager
	analyzer  *analysis.Analyzer
	state     *threat.State
	alerts    *alerts.Store
	incidents *incidents.Store
	store     storage.Store
	logger    *slog.Logger
	version   string
}

type statusResponse struct {
	Status     string        `json:"status"`
	Time       string        `json:"time"`
	Version    string        `json:"version"`
	ConfigPath string        `json:"config_path,omitempty"`
	API        apiStatus     `json:"api"`
	Storage    storageStatus `json:"storage"`
	Publish    publishStatus `json:"publish"`
	Dataset    datasetStatus `json:"dataset"`
}

type apiStatus struct {
	Addr string `json:"addr"`
}

type storageStatus struct {
	Enabled bool   `json:"enabled"`
	Driver  string `json:"driver,omitempty"`
}

type publishStatus struct {
	Kafka bool `json:"kafka"`
}

type datasetStatus struct {
	Loaded     string `json:"loaded"`
	Source     string `json:"source,omitempty"`
	AnalyzedAt string `json:"analyzed_at,omitempty"`
	TotalUsers int    `json:"total_users"`
	Anomalies  int    `json:"anomalies"`
}

func Start(ctx context.Context, cfg *config.Manager, analyzer *analysis.Analyzer, state *threat.State, alertsStore *alerts.Store, incidentStore *incidents.Store, store storage.Store, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:       cfg,
		analyzer:  analyzer,
		state:     state,
		alerts:    alertsStore,
		incidents: incidentStore,
		store:     store,
		logger:    logger,
		version:   version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/api/upload", server.handleUpload)
	mux.HandleFunc("/api/analyze", server.handleAnalyze)
	mux.HandleFunc("/api/alerts", server.handleAlerts)
	mux.HandleFunc("/api/alerts/", server.handleAlertByID)
	mux.HandleFunc("/api/summary", server.handleSummary)
	mux.HandleFunc("/api/notifications", server.handleNotifications)
	mux.HandleFunc("/api/notifications/", server.handleNotificationAction)
	mux.HandleFunc("/api/incidents", server.handleIncidents)
	mux.HandleFunc("/api/incidents/", server.handleIncidentAction)
	mux.HandleFunc("/admin/clear", server.handleClear)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": false,
		"timestamp":    time.Now().UTC().Format(time.RFC3339Nano),
		"message":      "analysis backend running in demo mode",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		API:        apiStatus{Addr: cfg.API.Addr},
		Storage:    storageStatus{Enabled: cfg.Storage.Enabled, Driver: cfg.Storage.Driver},
		Publish:    publishStatus{Kafka: cfg.Publish.Kafka.Enabled},
		Dataset:    datasetStatus{Loaded: "false"},
	}
	if snap, ok := s.state.Snapshot(); ok {
		resp.Dataset = datasetStatus{
			Loaded:     "true",
			Source:     snap.Source,
			AnalyzedAt: snap.AnalyzedAt.UTC().Format(time.RFC3339Nano),
			TotalUsers: snap.Summary.TotalUsers,
			Anomalies:  snap.Summary.AnomaliesDetected,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	file, name, ok := s.acceptCSV(w, r)
	if !ok {
		return
	}
	defer file.Close()
	info, err := s.analyzer.Inspect(name, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "error processing file: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"file_info": info,
		"message":   "file uploaded and analyzed successfully",
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	file, name, ok := s.acceptCSV(w, r)
	if !ok {
		return
	}
	defer file.Close()
	result, err := s.analyzer.Analyze(name, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "error analyzing data: "+err.Error())
		return
	}

	now := time.Now().UTC()
	s.state.Set(threat.Snapshot{
		Users:      result.Users,
		Summary:    result.Summary,
		Source:     name,
		AnalyzedAt: now,
	})
	derived := s.state.Deriver().Derive(result.Users)
	for _, a := range derived {
		rec := s.alerts.Create(model.AlertRecord{
			Type:     "threat_detection",
			Severity: a.Severity,
			Message:  a.Event + ": " + a.Description,
			UserID:   a.User,
			Metadata: map[string]string{
				"alert_id": strconv.Itoa(a.ID),
				"score":    a.Score,
				"source":   name,
			},
		})
		if s.store != nil {
			_ = s.store.SaveAlertRecord(r.Context(), rec)
		}
	}
	if s.store != nil {
		_ = s.store.SaveAnalysisRun(r.Context(), result.Summary)
	}
	if s.logger != nil {
		s.logger.Info("dataset analyzed",
			"source", name,
			"users", len(result.Users),
			"alerts", len(derived),
		)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"file_type":     "CSV Analysis: " + name,
		"results":       result,
		"analysis_time": now.Format(time.RFC3339Nano),
		"message":       "analysis completed for " + name,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	list := s.state.Deriver().Derive(s.state.Users())
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleAlertByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	id, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "alert id must be an integer")
		return
	}
	alert, ok := s.state.Deriver().FindByID(id, s.state.Users())
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, ok := s.state.Snapshot()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"loaded": false, "summary": model.Summary{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":      true,
		"summary":     snap.Summary,
		"source":      snap.Source,
		"analyzed_at": snap.AnalyzedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var list []model.AlertRecord
	if r.URL.Query().Get("unread") != "" {
		list = s.alerts.Unread()
	} else {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": list,
		"count":         len(list),
		"unread":        s.alerts.UnreadCount(),
	})
}

func (s *Server) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	if rest == "read_all" {
		n := s.alerts.MarkAllRead()
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "marked": n})
		return
	}
	id, action, ok := strings.Cut(rest, "/")
	if !ok || action != "read" || id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if !s.alerts.MarkRead(id) {
		writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := model.IncidentStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown incident status")
			return
		}
		list := s.incidents.List(status)
		writeJSON(w, http.StatusOK, map[string]any{
			"incidents": list,
			"count":     len(list),
		})
	case http.MethodPost:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var req struct {
			AlertID  int    `json:"alert_id"`
			User     string `json:"user"`
			Title    string `json:"title"`
			Severity string `json:"severity"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		if req.Severity == "" {
			req.Severity = threat.SeverityMedium
		}
		inc := s.incidents.Open(model.Incident{
			AlertID:  req.AlertID,
			User:     req.User,
			Title:    req.Title,
			Severity: req.Severity,
		}, currentAnalyst(r))
		if s.store != nil {
			_ = s.store.SaveIncident(r.Context(), inc)
		}
		writeJSON(w, http.StatusCreated, inc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleIncidentAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/incidents/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if action == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		inc, ok := s.incidents.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeJSON(w, http.StatusOK, inc)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	analyst := currentAnalyst(r)
	var inc model.Incident
	var err error
	switch action {
	case "notes":
		var req struct {
			Note string `json:"note"`
		}
		if decodeErr := decodeBody(w, r, &req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		inc, err = s.incidents.AddNote(id, strings.TrimSpace(req.Note), analyst)
	case "status":
		var req struct {
			Status string `json:"status"`
		}
		if decodeErr := decodeBody(w, r, &req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, decodeErr.Error())
			return
		}
		inc, err = s.incidents.SetStatus(id, model.IncidentStatus(req.Status), analyst)
	case "ack":
		inc, err = s.incidents.Acknowledge(id, analyst)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		switch err {
		case incidents.ErrNotFound:
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if s.store != nil {
		_ = s.store.SaveIncident(r.Context(), inc)
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	var req struct {
		Target string `json:"target"`
	}
	_ = json.Unmarshal(body, &req)
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.state.Clear()
		s.alerts.Clear()
		s.incidents.Clear()
	case "dataset":
		s.state.Clear()
	case "notifications":
		s.alerts.Clear()
	case "incidents":
		s.incidents.Clear()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// acceptCSV pulls the multipart "file" part, enforcing the upload size limit
// and the CSV-only rule.
func (s *Server) acceptCSV(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, "", false
	}
	maxBytes := s.cfg.Get().Analysis.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided")
		return nil, "", false
	}
	if header.Filename == "" {
		file.Close()
		writeError(w, http.StatusBadRequest, "no file selected")
		return nil, "", false
	}
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".csv") {
		file.Close()
		writeError(w, http.StatusBadRequest, "only CSV files are allowed")
		return nil, "", false
	}
	return file, header.Filename, true
}

// currentAnalyst reads the analyst identity propagated by the auth layer in
// front of this service.
func currentAnalyst(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Analyst")); v != "" {
		return v
	}
	return "analyst"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
