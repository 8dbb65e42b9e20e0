package threat

import (
	"fmt"
	"math"
	"strconv"

	"insiderwatch/internal/model"
)

const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Rule maps one behavioral feature threshold to an alert. Rules are
// independent: a user can trigger any number of them in one pass.
type Rule struct {
	Feature     string
	Threshold   float64
	Event       string
	RiskFactors []string

	severity func(u model.UserRecord) string
	score    func(u model.UserRecord) string
	describe func(value float64) string
}

// Triggered reports whether the rule fires for the user. Thresholds are
// strict: a value equal to the threshold does not fire, and absent features
// read as zero.
func (r Rule) Triggered(u model.UserRecord) bool {
	return u.Features.Get(r.Feature) > r.Threshold
}

func fixedSeverity(s string) func(model.UserRecord) string {
	return func(model.UserRecord) string { return s }
}

func fixedScore(s string) func(model.UserRecord) string {
	return func(model.UserRecord) string { return s }
}

func magnitudeScore(u model.UserRecord) string {
	return fmt.Sprintf("%.2f", math.Abs(u.AnomalyScore))
}

func formatCount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DefaultRules returns the rule set in evaluation order. The slice index is
// the rule slot used for synthetic alert timestamps, so order is part of the
// output contract.
func DefaultRules() []Rule {
	return []Rule{
		{
			Feature:     "accessed_decoy",
			Threshold:   0,
			Event:       "Honeytoken access detected",
			RiskFactors: []string{"Decoy file access", "Suspicious behavior pattern"},
			severity:    fixedSeverity(SeverityHigh),
			score:       fixedScore("0.98"),
			describe: func(float64) string {
				return "User accessed a decoy file, indicating potential insider threat activity."
			},
		},
		{
			Feature:     "after_hours_logons",
			Threshold:   50,
			Event:       "Excessive after-hours activity",
			RiskFactors: []string{"After-hours activity", "Unusual timing patterns"},
			severity:    fixedSeverity(SeverityHigh),
			score:       magnitudeScore,
			describe: func(v float64) string {
				return "User has " + formatCount(v) + " after-hours logons, significantly above normal patterns."
			},
		},
		{
			Feature:     "files_to_removable",
			Threshold:   10,
			Event:       "Large data transfer to removable media",
			RiskFactors: []string{"Removable media usage", "Data exfiltration risk"},
			severity:    fixedSeverity(SeverityHigh),
			score:       magnitudeScore,
			describe: func(v float64) string {
				return "User transferred " + formatCount(v) + " files to removable media, indicating potential data exfiltration."
			},
		},
		{
			Feature:     "unique_devices_logon",
			Threshold:   10,
			Event:       "Multiple device access pattern",
			RiskFactors: []string{"Multiple device access", "Unusual access patterns"},
			severity:    fixedSeverity(SeverityMedium),
			score:       magnitudeScore,
			describe: func(v float64) string {
				return "User accessed " + formatCount(v) + " different devices, showing unusual access patterns."
			},
		},
		{
			Feature:     "weekend_logons",
			Threshold:   5,
			Event:       "Abnormal working hours activity",
			RiskFactors: []string{"Weekend activity", "Unusual timing patterns"},
			severity: func(u model.UserRecord) string {
				// Only rule whose severity depends on the upstream risk level.
				if u.RiskLevel == model.RiskHigh {
					return SeverityMedium
				}
				return SeverityLow
			},
			score: magnitudeScore,
			describe: func(v float64) string {
				return "User has " + formatCount(v) + " weekend logons, indicating unusual work patterns."
			},
		},
		{
			Feature:     "after_hours_emails",
			Threshold:   30,
			Event:       "Unusual email activity pattern",
			RiskFactors: []string{"After-hours email activity", "Communication anomalies"},
			severity:    fixedSeverity(SeverityMedium),
			score:       magnitudeScore,
			describe: func(v float64) string {
				return "User sent " + formatCount(v) + " emails after hours, showing unusual communication patterns."
			},
		},
	}
}
