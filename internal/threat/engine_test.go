package threat

import (
	"strconv"
	"testing"
	"time"

	"insiderwatch/internal/model"
)

func fixedClock() func() time.Time {
	at := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func decoyUser(id string) model.UserRecord {
	return model.UserRecord{
		UserID:       id,
		RiskLevel:    model.RiskHigh,
		AnomalyScore: -0.42,
		Features:     model.FeatureMap{"accessed_decoy": 1},
	}
}

func TestHoneytokenAlert(t *testing.T) {
	d := NewDeriver(fixedClock())
	alerts := d.Derive([]model.UserRecord{decoyUser("U1")})
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	a := alerts[0]
	if a.Event != "Honeytoken access detected" {
		t.Fatalf("event: %s", a.Event)
	}
	if a.Severity != SeverityHigh {
		t.Fatalf("severity: %s", a.Severity)
	}
	if a.Score != "0.98" {
		t.Fatalf("score: %s", a.Score)
	}
	if a.ID != 1 || a.User != "U1" || a.AnomalyScore != -0.42 {
		t.Fatalf("alert fields: %+v", a)
	}
}

func TestThresholdIsStrict(t *testing.T) {
	d := NewDeriver(fixedClock())
	at := model.UserRecord{
		UserID:       "U1",
		RiskLevel:    model.RiskMedium,
		AnomalyScore: -0.6,
		Features:     model.FeatureMap{"after_hours_logons": 50},
	}
	if got := d.Derive([]model.UserRecord{at}); len(got) != 0 {
		t.Fatalf("value at threshold must not fire, got %d alerts", len(got))
	}
	at.Features["after_hours_logons"] = 51
	d.Invalidate()
	alerts := d.Derive([]model.UserRecord{at})
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Event != "Excessive after-hours activity" {
		t.Fatalf("event: %s", alerts[0].Event)
	}
	if alerts[0].Score != "0.60" {
		t.Fatalf("score: %s", alerts[0].Score)
	}
}

func TestWeekendSeverityFollowsRiskLevel(t *testing.T) {
	d := NewDeriver(fixedClock())
	low := model.UserRecord{
		UserID:       "U1",
		RiskLevel:    model.RiskLow,
		AnomalyScore: -0.2,
		Features:     model.FeatureMap{"weekend_logons": 6},
	}
	alerts := d.Derive([]model.UserRecord{low})
	if len(alerts) != 1 || alerts[0].Severity != SeverityLow {
		t.Fatalf("expected one low alert, got %+v", alerts)
	}

	high := low
	high.RiskLevel = model.RiskHigh
	d.Invalidate()
	alerts = d.Derive([]model.UserRecord{high})
	if len(alerts) != 1 || alerts[0].Severity != SeverityMedium {
		t.Fatalf("expected one medium alert, got %+v", alerts)
	}
}

func TestRulesFireIndependently(t *testing.T) {
	d := NewDeriver(fixedClock())
	u := model.UserRecord{
		UserID:       "U1",
		RiskLevel:    model.RiskHigh,
		AnomalyScore: -0.7,
		Features: model.FeatureMap{
			"accessed_decoy":       1,
			"after_hours_logons":   60,
			"files_to_removable":   12,
			"unique_devices_logon": 11,
			"weekend_logons":       7,
			"after_hours_emails":   40,
		},
	}
	alerts := d.Derive([]model.UserRecord{u})
	if len(alerts) != 6 {
		t.Fatalf("expected 6 alerts, got %d", len(alerts))
	}
	// Within one user, earlier rule slots carry later synthetic times.
	for i := 1; i < len(alerts); i++ {
		if alerts[i].FiredAt.After(alerts[i-1].FiredAt) {
			t.Fatalf("alerts out of order at %d", i)
		}
	}
	if alerts[0].Event != "Honeytoken access detected" {
		t.Fatalf("first alert: %s", alerts[0].Event)
	}
}

func TestCapKeepsMostRecent(t *testing.T) {
	d := NewDeriver(fixedClock())
	users := make([]model.UserRecord, 0, 15)
	for i := 0; i < 15; i++ {
		users = append(users, decoyUser("U"+itoa(i)))
	}
	alerts := d.Derive(users)
	if len(alerts) != MaxAlerts {
		t.Fatalf("expected %d alerts, got %d", MaxAlerts, len(alerts))
	}
	// Lowest user indexes have the most recent synthetic timestamps.
	for i, a := range alerts {
		if a.User != "U"+itoa(i) {
			t.Fatalf("alert %d belongs to %s", i, a.User)
		}
	}
}

func TestDeriveIsMemoized(t *testing.T) {
	d := NewDeriver(fixedClock())
	users := []model.UserRecord{decoyUser("U1"), decoyUser("U2")}
	first := d.Derive(users)
	second := d.Derive(users)
	if len(first) == 0 || &first[0] != &second[0] {
		t.Fatalf("expected cached result to be returned unchanged")
	}
}

func TestInvalidateForcesRecompute(t *testing.T) {
	d := NewDeriver(fixedClock())
	users := []model.UserRecord{decoyUser("U1")}
	first := d.Derive(users)
	d.Invalidate()
	second := d.Derive(users)
	if &first[0] == &second[0] {
		t.Fatalf("expected a fresh pass after invalidation")
	}
	if second[0].ID != 1 || second[0].Event != first[0].Event {
		t.Fatalf("recomputed pass differs in content: %+v", second[0])
	}
}

func TestContentChangeRecomputes(t *testing.T) {
	d := NewDeriver(fixedClock())
	users := []model.UserRecord{decoyUser("U1")}
	d.Derive(users)
	users[0].Features = model.FeatureMap{"accessed_decoy": 1, "weekend_logons": 6}
	alerts := d.Derive(users)
	if len(alerts) != 2 {
		t.Fatalf("expected recompute on changed features, got %d alerts", len(alerts))
	}
}

func TestEmptyInput(t *testing.T) {
	d := NewDeriver(fixedClock())
	alerts := d.Derive(nil)
	if alerts == nil || len(alerts) != 0 {
		t.Fatalf("expected empty result, got %v", alerts)
	}
	d.Invalidate()
	if alerts = d.Derive([]model.UserRecord{}); len(alerts) != 0 {
		t.Fatalf("expected empty result after invalidation, got %v", alerts)
	}
}

func TestMissingFeaturesNeverFire(t *testing.T) {
	d := NewDeriver(fixedClock())
	u := model.UserRecord{UserID: "U1", RiskLevel: model.RiskLow, AnomalyScore: -0.1}
	if alerts := d.Derive([]model.UserRecord{u}); len(alerts) != 0 {
		t.Fatalf("nil feature map must not trigger, got %v", alerts)
	}
}

func TestFindByID(t *testing.T) {
	d := NewDeriver(fixedClock())
	users := []model.UserRecord{decoyUser("U1"), decoyUser("U2")}
	alerts := d.Derive(users)
	for _, want := range alerts {
		got, ok := d.FindByID(want.ID, users)
		if !ok {
			t.Fatalf("alert %d not found", want.ID)
		}
		if got.ID != want.ID || got.User != want.User || got.Event != want.Event {
			t.Fatalf("lookup mismatch: %+v vs %+v", got, want)
		}
	}
	if _, ok := d.FindByID(999, users); ok {
		t.Fatalf("expected miss for id 999")
	}
}

func TestStateInvalidatesOnSetAndClear(t *testing.T) {
	d := NewDeriver(fixedClock())
	state := NewState(d)
	users := []model.UserRecord{decoyUser("U1")}
	first := d.Derive(users)

	state.Set(Snapshot{Users: users, AnalyzedAt: time.Now()})
	second := d.Derive(state.Users())
	if &first[0] == &second[0] {
		t.Fatalf("Set must invalidate the derivation cache")
	}

	state.Clear()
	if got := state.Users(); got != nil {
		t.Fatalf("expected nil users after clear, got %v", got)
	}
	if alerts := d.Derive(state.Users()); len(alerts) != 0 {
		t.Fatalf("expected no alerts after clear, got %d", len(alerts))
	}
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
