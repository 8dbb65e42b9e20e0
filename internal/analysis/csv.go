package analysis

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"insiderwatch/internal/model"
)

type FileType string

const (
	TypeMLFeatures FileType = "ml_features"
	TypeUsers      FileType = "users"
	TypeLogon      FileType = "logon"
	TypeFile       FileType = "file"
	TypeDevice     FileType = "device"
	TypeDecoy      FileType = "decoy"
	TypeEmail      FileType = "email"
	TypeUnknown    FileType = "unknown"
)

// table is one parsed CSV: a header plus rows addressed by column name.
type table struct {
	columns []string
	rows    []map[string]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("csv file is empty")
	}
	header := records[0]
	columns := make([]string, len(header))
	for i, c := range header {
		columns[i] = strings.TrimSpace(c)
	}
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = strings.TrimSpace(rec[i])
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return &table{columns: columns, rows: rows}, nil
}

func (t *table) hasColumn(name string) bool {
	for _, c := range t.columns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

func (t *table) column(name string) string {
	for _, c := range t.columns {
		if strings.EqualFold(c, name) {
			return c
		}
	}
	return ""
}

// uniqueValues returns the distinct non-empty values of a column in first-seen
// order.
func (t *table) uniqueValues(name string) []string {
	col := t.column(name)
	if col == "" {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, row := range t.rows {
		v := row[col]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (t *table) rowsWhere(name, value string) []map[string]string {
	col := t.column(name)
	if col == "" {
		return nil
	}
	out := make([]map[string]string, 0)
	for _, row := range t.rows {
		if row[col] == value {
			out = append(out, row)
		}
	}
	return out
}

// detectFileType classifies an uploaded CSV by its columns first, then by
// filename hints.
func detectFileType(t *table, filename string) FileType {
	if t.hasColumn("total_logons") && t.hasColumn("accessed_decoy") && t.hasColumn("total_emails_sent") {
		return TypeMLFeatures
	}

	name := strings.ToLower(filename)
	switch {
	case strings.Contains(name, "ml_features") || strings.Contains(name, "features"):
		return TypeMLFeatures
	case strings.Contains(name, "logon"):
		return TypeLogon
	case strings.Contains(name, "email"):
		return TypeEmail
	case strings.Contains(name, "file") && !strings.Contains(name, "decoy"):
		return TypeFile
	case strings.Contains(name, "device"):
		return TypeDevice
	case strings.Contains(name, "decoy"):
		return TypeDecoy
	case strings.Contains(name, "user"):
		return TypeUsers
	}

	switch {
	case t.hasColumn("user_id") && t.hasColumn("employee_name"):
		return TypeUsers
	case t.hasColumn("activity"):
		return TypeLogon
	case t.hasColumn("filename") && t.hasColumn("content"):
		return TypeFile
	case t.hasColumn("file_tree"):
		return TypeDevice
	case t.hasColumn("decoy_filename"):
		return TypeDecoy
	case t.hasColumn("to") || t.hasColumn("from") || t.hasColumn("subject") ||
		t.hasColumn("cc") || t.hasColumn("bcc"):
		return TypeEmail
	}
	return TypeUnknown
}

// Inspect summarizes an uploaded CSV without scoring it.
func (a *Analyzer) Inspect(filename string, r io.Reader) (model.FileInfo, error) {
	t, err := readTable(r)
	if err != nil {
		return model.FileInfo{}, err
	}
	missing := make(map[string]int, len(t.columns))
	for _, col := range t.columns {
		n := 0
		for _, row := range t.rows {
			if row[col] == "" {
				n++
			}
		}
		missing[col] = n
	}
	sample := t.rows
	if len(sample) > 5 {
		sample = sample[:5]
	}
	samples := make([]map[string]string, len(sample))
	copy(samples, sample)
	return model.FileInfo{
		Filename:      filename,
		Rows:          len(t.rows),
		Columns:       len(t.columns),
		ColumnNames:   append([]string(nil), t.columns...),
		SampleData:    samples,
		MissingValues: missing,
		UploadTime:    time.Now().UTC(),
	}, nil
}
