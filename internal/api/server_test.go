package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"insiderwatch/internal/alerts"
	"insiderwatch/internal/analysis"
	"insiderwatch/internal/config"
	"insiderwatch/internal/incidents"
	"insiderwatch/internal/model"
	"insiderwatch/internal/threat"
)

const mlCSV = `total_logons,unique_devices_logon,weekend_logons,after_hours_logons,total_emails_sent,accessed_decoy,files_to_removable,after_hours_emails
120,3,2,60,40,1,0,10
`

func newTestServer() *Server {
	return &Server{
		cfg:       config.NewStaticManager(config.DefaultConfig()),
		analyzer:  analysis.New(nil),
		state:     threat.NewState(threat.NewDeriver(nil)),
		alerts:    alerts.NewStore(10),
		incidents: incidents.NewStore(),
		version:   "test",
	}
}

func csvUpload(t *testing.T, path, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAnalyzeInstallsDataset(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleAnalyze(w, csvUpload(t, "/api/analyze", "ml_features.csv", mlCSV))
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	s.handleAlerts(w, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
	var resp struct {
		Alerts []model.Alert `json:"alerts"`
		Count  int           `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count == 0 {
		t.Fatalf("expected derived alerts, got none")
	}
	found := false
	for _, a := range resp.Alerts {
		if a.Event == "Honeytoken access detected" {
			found = true
		}
	}
	if !found {
		t.Fatalf("honeytoken alert missing: %+v", resp.Alerts)
	}
	if s.alerts.UnreadCount() != resp.Count {
		t.Fatalf("expected %d notification records, got %d", resp.Count, s.alerts.UnreadCount())
	}
}

func TestAlertLookup(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleAnalyze(w, csvUpload(t, "/api/analyze", "ml_features.csv", mlCSV))

	w = httptest.NewRecorder()
	s.handleAlertByID(w, httptest.NewRequest(http.MethodGet, "/api/alerts/1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("lookup status %d", w.Code)
	}
	var alert model.Alert
	if err := json.Unmarshal(w.Body.Bytes(), &alert); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if alert.ID != 1 {
		t.Fatalf("alert id: %d", alert.ID)
	}

	w = httptest.NewRecorder()
	s.handleAlertByID(w, httptest.NewRequest(http.MethodGet, "/api/alerts/999", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing alert, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleAlertByID(w, httptest.NewRequest(http.MethodGet, "/api/alerts/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-integer id, got %d", w.Code)
	}
}

func TestUploadRejectsNonCSV(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleUpload(w, csvUpload(t, "/api/upload", "report.pdf", "not a csv"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "CSV") {
		t.Fatalf("error body: %s", w.Body.String())
	}
}

func TestClearEmptiesDataset(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.handleAnalyze(w, csvUpload(t, "/api/analyze", "ml_features.csv", mlCSV))

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/clear", strings.NewReader(`{"target":"all"}`))
	s.handleClear(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status %d", w.Code)
	}

	w = httptest.NewRecorder()
	s.handleAlerts(w, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("expected no alerts after clear, got %d", resp.Count)
	}
	if s.alerts.UnreadCount() != 0 {
		t.Fatalf("expected notifications cleared")
	}
}

func TestIncidentLifecycle(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	body := strings.NewReader(`{"alert_id":1,"user":"U1","title":"Honeytoken access","severity":"high"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/incidents", body)
	req.Header.Set("X-Analyst", "analyst1")
	s.handleIncidents(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("open status %d: %s", w.Code, w.Body.String())
	}
	var inc model.Incident
	if err := json.Unmarshal(w.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inc.Status != model.StatusNew {
		t.Fatalf("status: %s", inc.Status)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/incidents/"+inc.ID+"/notes", strings.NewReader(`{"note":"looking into it"}`))
	req.Header.Set("X-Analyst", "analyst1")
	s.handleIncidentAction(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("note status %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inc.Notes != "looking into it" {
		t.Fatalf("notes: %q", inc.Notes)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/incidents/"+inc.ID+"/status", strings.NewReader(`{"status":"resolved"}`))
	s.handleIncidentAction(w, req)
	if err := json.Unmarshal(w.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inc.Status != model.StatusResolved {
		t.Fatalf("status: %s", inc.Status)
	}
	if inc.Timeline[len(inc.Timeline)-1].Analyst != "analyst" {
		t.Fatalf("default analyst not applied: %+v", inc.Timeline)
	}
}
