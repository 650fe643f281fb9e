package imagepick

import (
	"log/slog"
)

// AuditEntry is one final image that failed the audit.
type AuditEntry struct {
	Record KeywordRecord
	Path   string
	Err    error
}

// AuditReport groups the expected final images by state.
type AuditReport struct {
	Valid     []KeywordRecord
	Corrupted []AuditEntry
	Missing   []KeywordRecord
}

// Audit checks the final image of every record with CheckJPEGHeader.
func Audit(store *CandidateStore, records []KeywordRecord) AuditReport {
	var report AuditReport
	for _, rec := range records {
		path := store.FinalPath(rec)
		if !Exists(path) {
			report.Missing = append(report.Missing, rec)
			continue
		}
		if err := CheckJPEGHeader(path); err != nil {
			report.Corrupted = append(report.Corrupted, AuditEntry{Record: rec, Path: path, Err: err})
			continue
		}
		report.Valid = append(report.Valid, rec)
	}
	return report
}

// RemoveCorrupted deletes every corrupted final image in the report so the
// next run materializes it again. It returns how many files were removed.
func (r AuditReport) RemoveCorrupted() int {
	removed := 0
	for _, e := range r.Corrupted {
		if err := removeIfExists(e.Path); err != nil {
			slog.Warn("imagepick: cannot remove corrupted image", "path", e.Path, "error", err.Error())
			continue
		}
		removed++
	}
	return removed
}
