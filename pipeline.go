package imagepick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// ErrMissingCredentials is returned by NewPipeline when a mode that searches
// has no API key or engine id.
var ErrMissingCredentials = errors.New("search credentials are not configured")

// Mode selects which stages a run performs.
type Mode int

const (
	ModeFull       Mode = iota // search, download and materialize
	ModeCandidates             // search and download only
	ModeFinal                  // materialize from existing candidates only
)

func (m Mode) String() string {
	switch m {
	case ModeCandidates:
		return "candidates"
	case ModeFinal:
		return "final"
	default:
		return "full"
	}
}

// ParseMode maps a mode name or its command alias (run, search, select)
// to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "full", "run":
		return ModeFull, nil
	case "candidates", "search":
		return ModeCandidates, nil
	case "final", "select":
		return ModeFinal, nil
	}
	return ModeFull, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) searches() bool     { return m != ModeFinal }
func (m Mode) materializes() bool { return m != ModeCandidates }

// Stats counts what one Run did.
type Stats struct {
	Processed       int // keywords visited
	Skipped         int // final image already present
	Searched        int // keywords that issued a search
	Downloaded      int // candidate files written
	FailedDownloads int // candidates dropped after retries or validation
	Materialized    int // final images written
	Evaluated       int // keywords decided by the evaluator
	Fallbacks       int // evaluator decisions that fell back to rank 1
	Mirrored        int // final images copied to the mirror
}

// Pipeline drives keywords through search, download and selection.
// Keywords are processed one at a time.
type Pipeline struct {
	cfg      Config
	search   *SearchClient
	fetch    *Fetcher
	store    *CandidateStore
	selector *Selector
	cooldown func(ctx context.Context, d time.Duration) error
}

// NewPipeline validates cfg and wires the stage components.
func NewPipeline(cfg Config) (*Pipeline, error) {
	cfg.defaults()
	if cfg.Mode.searches() && (cfg.APIKey == "" || cfg.EngineID == "") {
		return nil, ErrMissingCredentials
	}
	if err := cfg.Filters.Validate(); err != nil {
		return nil, fmt.Errorf("search filters: %w", err)
	}
	if cfg.Evaluate && cfg.Evaluator == nil {
		return nil, errors.New("evaluation enabled without an evaluator")
	}
	cfg.NumResults = min(cfg.NumResults, MaxSearchResults)

	return &Pipeline{
		cfg:      cfg,
		search:   NewSearchClient(&cfg),
		fetch:    NewFetcher(&cfg),
		store:    NewCandidateStore(&cfg),
		selector: NewSelector(&cfg),
		cooldown: sleep,
	}, nil
}

// Store returns the candidate store the pipeline writes to.
func (p *Pipeline) Store() *CandidateStore { return p.store }

// Run processes records in order. Cancelling ctx stops the run between
// keywords; a keyword that has started always runs to completion.
func (p *Pipeline) Run(ctx context.Context, records []KeywordRecord) Stats {
	var stats Stats
	evaluated := 0
	start := time.Now()

	slog.Info("imagepick: run started", "mode", p.cfg.Mode.String(), "keywords", len(records),
		"evaluate", p.selector.Evaluator != nil)

	for i, rec := range records {
		if ctx.Err() != nil {
			slog.Info("imagepick: run interrupted", "done", i, "remaining", len(records)-i)
			break
		}

		if p.processKeyword(context.WithoutCancel(ctx), rec, &stats) {
			evaluated++
			if evaluated%p.cfg.CooldownEvery == 0 && i < len(records)-1 {
				slog.Info("imagepick: cooling down", "evaluated", evaluated, "pause", p.cfg.Cooldown)
				if err := p.cooldown(ctx, p.cfg.Cooldown); err != nil {
					slog.Info("imagepick: run interrupted", "done", i+1, "remaining", len(records)-i-1)
					break
				}
			}
		}
	}

	slog.Info("imagepick: run finished",
		"processed", stats.Processed,
		"skipped", stats.Skipped,
		"downloaded", stats.Downloaded,
		"failed_downloads", stats.FailedDownloads,
		"materialized", stats.Materialized,
		"fallbacks", stats.Fallbacks,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return stats
}

// processKeyword runs the configured stages for rec and reports whether the
// evaluator decided a final image that was written.
func (p *Pipeline) processKeyword(ctx context.Context, rec KeywordRecord, stats *Stats) bool {
	stats.Processed++
	log := slog.With("id", rec.ID, "keyword", rec.Keyword)

	if p.cfg.Mode.materializes() && p.store.HasFinal(rec) {
		stats.Skipped++
		log.Debug("imagepick: final image exists, skipping")
		return false
	}

	if p.cfg.Mode.searches() {
		p.collect(ctx, rec, stats, log)
	}
	if !p.cfg.Mode.materializes() {
		return false
	}
	return p.finalize(ctx, rec, stats, log)
}

// collect searches for rec and downloads every result rank not yet on disk.
func (p *Pipeline) collect(ctx context.Context, rec KeywordRecord, stats *Stats, log *slog.Logger) {
	if p.store.HasSufficient(rec, p.cfg.NumResults) {
		log.Debug("imagepick: enough candidates on disk, skipping search")
		return
	}
	if err := p.store.EnsureDir(rec); err != nil {
		log.Error("imagepick: cannot prepare candidate dir", "error", err.Error())
		return
	}

	results := p.search.Search(ctx, rec.Keyword, p.cfg.NumResults, p.cfg.Filters)
	stats.Searched++
	if len(results) == 0 {
		log.Warn("imagepick: search returned no results")
		return
	}

	for i, r := range results {
		dest := p.store.CandidatePath(rec, i+1)
		if Exists(dest) {
			continue
		}
		if p.cfg.RejectStock && IsStockSource(r.SourceURL, r.OriginSite) {
			log.Debug("imagepick: skipping stock source", "url", r.SourceURL, "site", r.OriginSite)
			continue
		}

		if err := p.fetch.Fetch(ctx, r.SourceURL, dest); err != nil {
			stats.FailedDownloads++
			log.Warn("imagepick: candidate download failed", "rank", i+1, "error", err.Error())
			continue
		}
		if err := ValidateCandidateFile(dest); err != nil {
			stats.FailedDownloads++
			log.Warn("imagepick: removing invalid candidate", "path", dest, "error", err.Error())
			if err := removeIfExists(dest); err != nil {
				log.Error("imagepick: cannot remove invalid candidate", "path", dest, "error", err.Error())
			}
			continue
		}
		stats.Downloaded++
	}
}

// finalize selects a candidate and materializes it as the final image.
func (p *Pipeline) finalize(ctx context.Context, rec KeywordRecord, stats *Stats, log *slog.Logger) bool {
	candidates := p.store.CandidatePaths(rec)
	if len(candidates) == 0 {
		log.Warn("imagepick: no candidates to select from")
		return false
	}

	chosen, outcome := p.selector.Select(ctx, candidates, rec.Keyword)
	evaluated := p.selector.Evaluator != nil
	if evaluated {
		stats.Evaluated++
		if outcome.FellBack {
			stats.Fallbacks++
		}
	}
	if p.cfg.OnOutcome != nil {
		p.cfg.OnOutcome(rec, outcome)
	}

	dest := p.store.FinalPath(rec)
	used, err := Materialize(chosen, candidates, dest)
	if err != nil {
		log.Error("imagepick: materialize failed", "error", err.Error())
		return false
	}
	stats.Materialized++
	log.Info("imagepick: final image written", "source", filepath.Base(used), "outcome", outcome.String())

	if p.cfg.Mirror != nil {
		key := filepath.Base(dest)
		if err := p.cfg.Mirror.Put(ctx, key, dest); err != nil {
			log.Warn("imagepick: mirror upload failed", "key", key, "error", err.Error())
		} else {
			stats.Mirrored++
		}
	}
	return evaluated
}
