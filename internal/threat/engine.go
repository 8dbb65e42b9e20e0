package threat

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"insiderwatch/internal/model"
)

const (
	// MaxAlerts caps one derivation pass; older synthetic timestamps are
	// dropped past this point.
	MaxAlerts = 10

	userSpacing = time.Hour
	ruleSpacing = 30 * time.Minute

	timestampLayout = "1/2/2006, 3:04:05 PM"
)

// Deriver turns a batch of scored users into a ranked, capped alert list.
// The last result is memoized by a content key over (user_id, features), so
// repeated calls over an unchanged dataset return the same slice with the
// same id assignments. The cache holds exactly one generation; key and
// result are replaced together under the mutex.
type Deriver struct {
	mu    sync.Mutex
	rules []Rule
	now   func() time.Time
	key   string
	last  []model.Alert
}

func NewDeriver(now func() time.Time) *Deriver {
	if now == nil {
		now = time.Now
	}
	return &Deriver{rules: DefaultRules(), now: now}
}

// Derive evaluates every rule against every user in input order. Ids start
// at 1 per pass. Synthetic timestamps place each user one hour before the
// previous one and each later rule slot 30 minutes earlier within a user, so
// the first rule that fired for the first user sorts most recent.
func (d *Deriver) Derive(users []model.UserRecord) []model.Alert {
	key := contentKey(users)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last != nil && d.key == key {
		return d.last
	}

	now := d.now()
	out := make([]model.Alert, 0)
	id := 1
	for userIndex, u := range users {
		base := now.Add(-time.Duration(userIndex) * userSpacing)
		for slot, rule := range d.rules {
			if !rule.Triggered(u) {
				continue
			}
			fired := base.Add(-time.Duration(slot) * ruleSpacing)
			out = append(out, model.Alert{
				ID:           id,
				Timestamp:    fired.Format(timestampLayout),
				FiredAt:      fired,
				User:         u.UserID,
				Event:        rule.Event,
				Severity:     rule.severity(u),
				Score:        rule.score(u),
				Description:  rule.describe(u.Features.Get(rule.Feature)),
				RiskFactors:  rule.RiskFactors,
				AnomalyScore: u.AnomalyScore,
			})
			id++
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FiredAt.After(out[j].FiredAt)
	})
	if len(out) > MaxAlerts {
		out = out[:MaxAlerts]
	}

	d.key = key
	d.last = out
	return out
}

// FindByID resolves one alert from the current (or freshly derived) pass.
// A miss is a normal outcome, not an error.
func (d *Deriver) FindByID(id int, users []model.UserRecord) (model.Alert, bool) {
	for _, a := range d.Derive(users) {
		if a.ID == id {
			return a, true
		}
	}
	return model.Alert{}, false
}

// Invalidate discards the memoized pass. Collaborators that swap the
// upstream dataset must call this: the content key only sees user ids and
// features, so replacement is not otherwise guaranteed to be detected.
func (d *Deriver) Invalidate() {
	d.mu.Lock()
	d.key = ""
	d.last = nil
	d.mu.Unlock()
}

type keyEntry struct {
	ID       string           `json:"id"`
	Features model.FeatureMap `json:"features"`
}

// contentKey hashes (user_id, features) pairs in input order. Map keys
// marshal sorted, so the key is structural rather than insertion-ordered.
func contentKey(users []model.UserRecord) string {
	entries := make([]keyEntry, len(users))
	for i, u := range users {
		entries[i] = keyEntry{ID: u.UserID, Features: u.Features}
	}
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
