package audit

import (
	"bytes"
	"encoding/csv"
	"strings"
	"time"
)

// csvHeader is the deterministic column order for exports.
var csvHeader = []string{
	"timestamp",
	"target_identity_id",
	"target_name",
	"target_email",
	"old_role",
	"new_role",
	"performed_by_id",
	"performed_by_name",
	"reason",
}

// Exporter writes role history exports.
type Exporter struct{}

// NewExporter constructs an Exporter.
func NewExporter() *Exporter {
	return &Exporter{}
}

// WriteCSV encodes entries as CSV with a fixed column order. Free-text fields
// have newlines normalised to spaces so one entry stays one logical row;
// quoting is left to encoding/csv.
func (e *Exporter) WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	writer.UseCRLF = true
	if err := writer.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		row := []string{
			entry.CreatedAt.UTC().Format(time.RFC3339),
			entry.TargetIdentityID,
			normalizeText(entry.TargetName),
			normalizeText(entry.TargetEmail),
			string(entry.OldRole),
			string(entry.NewRole),
			entry.PerformedByID,
			normalizeText(entry.PerformedByName),
			normalizeText(entry.Reason),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportFilename builds the attachment name for a given day.
func ExportFilename(at time.Time) string {
	return "role-history-" + at.UTC().Format("2006-01-02") + ".csv"
}

func normalizeText(value string) string {
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	return strings.TrimSpace(value)
}
