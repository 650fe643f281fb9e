package imagepick

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// HeaderMarkerID is the id carried by the header row of spreadsheet exports.
const HeaderMarkerID = "编号"

// idSeparator splits a keyword id into partition prefix and sequence number.
const idSeparator = "-"

// ErrInvalidRange reports an id range that cannot be expanded.
var ErrInvalidRange = errors.New("invalid id range")

// KeywordRecord is one unit of work: a stable id and the search phrase.
type KeywordRecord struct {
	ID      string `json:"id"`
	Keyword string `json:"keyword_formatted"`
}

// Partition returns the id text before the first separator.
func (r KeywordRecord) Partition() string {
	return partitionOf(r.ID)
}

// Slug returns the keyword with spaces replaced by underscores.
func (r KeywordRecord) Slug() string {
	return strings.ReplaceAll(r.Keyword, " ", "_")
}

// Name is the "<id>_<slug>" stem shared by the candidate directory and the final image.
func (r KeywordRecord) Name() string {
	return r.ID + "_" + r.Slug()
}

func partitionOf(id string) string {
	part, _, _ := strings.Cut(id, idSeparator)
	return part
}

// LoadKeywordsFile reads a keyword list from a JSON file.
func LoadKeywordsFile(path string) ([]KeywordRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keywords: %w", err)
	}
	defer f.Close()
	return LoadKeywords(f)
}

// LoadKeywords decodes a JSON array of keyword records and drops header and
// empty-id rows. Input order is preserved; duplicate ids are kept.
func LoadKeywords(r io.Reader) ([]KeywordRecord, error) {
	var raw []KeywordRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	out := raw[:0]
	for _, rec := range raw {
		if rec.ID == "" || rec.ID == HeaderMarkerID {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// SelectionMode identifies which part of a Selection is honored.
type SelectionMode int

const (
	SelectIndexRange SelectionMode = iota
	SelectPartitions
	SelectIDs
)

func (m SelectionMode) String() string {
	switch m {
	case SelectIDs:
		return "ids"
	case SelectPartitions:
		return "partitions"
	default:
		return "index-range"
	}
}

// Selection picks the subset of keywords processed by one run.
// Exactly one mode applies, by precedence IDs > Partitions > index range.
type Selection struct {
	IDs        []string // literal ids or closed ranges "P-a:P-b"
	Partitions []string // partition prefixes
	Start      int      // inclusive, clamped to the list
	End        int      // exclusive; <= 0 means end of list
}

// ParseSelection builds a Selection from comma-separated id and partition lists.
func ParseSelection(ids, parts string, start, end int) Selection {
	return Selection{
		IDs:        splitList(ids),
		Partitions: splitList(parts),
		Start:      start,
		End:        end,
	}
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Mode reports which selection mode Apply will use.
func (s Selection) Mode() SelectionMode {
	switch {
	case len(s.IDs) > 0:
		return SelectIDs
	case len(s.Partitions) > 0:
		return SelectPartitions
	default:
		return SelectIndexRange
	}
}

// String describes the selection for logs.
func (s Selection) String() string {
	switch s.Mode() {
	case SelectIDs:
		return "ids: " + strings.Join(s.IDs, ",")
	case SelectPartitions:
		return "parts: " + strings.Join(s.Partitions, ",")
	default:
		if s.End <= 0 {
			return fmt.Sprintf("index %d to end", s.Start)
		}
		return fmt.Sprintf("index %d to %d", s.Start, s.End)
	}
}

// Apply filters records according to the selection, preserving input order.
// Malformed id ranges are logged and skipped.
func (s Selection) Apply(records []KeywordRecord) []KeywordRecord {
	switch s.Mode() {
	case SelectIDs:
		wanted, errs := ExpandIDs(s.IDs)
		for _, err := range errs {
			slog.Warn("imagepick: skipping id range", "error", err.Error())
		}
		return filterRecords(records, func(r KeywordRecord) bool { return wanted[r.ID] })
	case SelectPartitions:
		parts := make(map[string]bool, len(s.Partitions))
		for _, p := range s.Partitions {
			parts[p] = true
		}
		return filterRecords(records, func(r KeywordRecord) bool { return parts[r.Partition()] })
	default:
		start, end := s.Start, s.End
		if end <= 0 || end > len(records) {
			end = len(records)
		}
		start = max(start, 0)
		if start >= end {
			return nil
		}
		return append([]KeywordRecord(nil), records[start:end]...)
	}
}

func filterRecords(records []KeywordRecord, keep func(KeywordRecord) bool) []KeywordRecord {
	var out []KeywordRecord
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// ExpandIDs turns id specs into a set. A spec is a literal id or a closed
// range "P-a:P-b" whose endpoints share partition P. Ranges that span
// partitions or do not parse are returned as errors and contribute nothing.
func ExpandIDs(specs []string) (map[string]bool, []error) {
	set := make(map[string]bool)
	var errs []error
	for _, spec := range specs {
		from, to, isRange := strings.Cut(spec, ":")
		if !isRange {
			set[spec] = true
			continue
		}
		fromPart, fromNum, err := parseID(from)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrInvalidRange, spec, err))
			continue
		}
		toPart, toNum, err := parseID(to)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %q: %w", ErrInvalidRange, spec, err))
			continue
		}
		if fromPart != toPart {
			errs = append(errs, fmt.Errorf("%w %q: spans multiple parts", ErrInvalidRange, spec))
			continue
		}
		for n := fromNum; n <= toNum; n++ {
			set[fmt.Sprintf("%d%s%d", fromPart, idSeparator, n)] = true
		}
	}
	return set, errs
}

func parseID(id string) (part, num int, err error) {
	p, n, ok := strings.Cut(strings.TrimSpace(id), idSeparator)
	if !ok {
		return 0, 0, fmt.Errorf("id %q has no %q separator", id, idSeparator)
	}
	if part, err = strconv.Atoi(p); err != nil {
		return 0, 0, fmt.Errorf("id %q: partition: %w", id, err)
	}
	if num, err = strconv.Atoi(n); err != nil {
		return 0, 0, fmt.Errorf("id %q: sequence: %w", id, err)
	}
	return part, num, nil
}
