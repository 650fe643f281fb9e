package imagepick

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultEvalBackoff = time.Second

// ErrNoCandidates is returned by Materialize when no candidate file exists.
var ErrNoCandidates = errors.New("no candidate files")

// Fallback reasons recorded in Outcome.Reason.
const (
	ReasonNoCandidates   = "no candidates"
	ReasonUploadFailed   = "no candidate could be uploaded"
	ReasonUnparseable    = "unparseable evaluator response"
	ReasonOutOfRange     = "evaluator index out of range"
	ReasonEvaluatorError = "evaluator error"
	ReasonRetriesSpent   = "evaluator retries exhausted"
)

// Outcome is the result of choosing a candidate. Either a candidate was
// Selected by the active policy, or selection FellBackToDefault (rank 1).
type Outcome struct {
	Index    int    // 1-based rank within the candidate list
	FellBack bool   // true when the evaluator could not decide
	Reason   string // why selection fell back; empty otherwise
	Response string // raw evaluator answer, if any
}

// Selected is an outcome chosen by policy.
func Selected(index int) Outcome { return Outcome{Index: index} }

// FellBackToDefault is the rank-1 outcome used when the evaluator fails.
func FellBackToDefault(reason string) Outcome {
	return Outcome{Index: 1, FellBack: true, Reason: reason}
}

func (o Outcome) String() string {
	if o.FellBack {
		return fmt.Sprintf("fallback to 1 (%s)", o.Reason)
	}
	return fmt.Sprintf("selected %d", o.Index)
}

// EvalError is returned by Evaluator implementations for failed calls.
type EvalError struct {
	Provider   string
	Op         string // upload, generate, delete
	StatusCode int    // 0 for transport failures
	Message    string
	Err        error
}

func (e *EvalError) Error() string {
	msg := e.Provider + " " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *EvalError) Unwrap() error { return e.Err }

// Transient reports whether the call is worth retrying: server errors,
// rate limiting and transport failures.
func (e *EvalError) Transient() bool {
	if e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode == 0 && e.Err != nil {
		var ne net.Error
		return errors.As(e.Err, &ne) || errors.Is(e.Err, context.DeadlineExceeded)
	}
	return false
}

// IsTransient reports whether err should be retried with backoff.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// SelectionPrompt is the instruction sent with the candidate images.
// Indexes are 1-based to match candidate_<n>.jpg.
func SelectionPrompt(keyword string, n int) string {
	return fmt.Sprintf("You are shown %d candidate images for the search keyword %q. "+
		"Pick the image that best matches the keyword and has no watermark. "+
		"Reply with its number only, from 1 to %d.", n, keyword, n)
}

// ParseIndex reads the leading whitespace-delimited token of an evaluator
// response as a 1-based index in 1..n. Surrounding punctuation such as
// "2." or "**2**" is tolerated.
func ParseIndex(resp string, n int) (int, error) {
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return 0, errors.New("empty response")
	}
	token := strings.Trim(fields[0], ".,;:!?)(*[]#\"'`")
	idx, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("leading token %q: %w", fields[0], err)
	}
	if idx < 1 || idx > n {
		return idx, fmt.Errorf("index %d outside 1..%d", idx, n)
	}
	return idx, nil
}

// Selector picks one candidate per keyword.
// Without an Evaluator it always picks rank 1.
type Selector struct {
	Evaluator  Evaluator
	MaxRetries int           // evaluator attempts (default: 3)
	Backoff    time.Duration // wait before attempt k is Backoff * 2^k (default: 1s)
	Settle     time.Duration // pause between uploads and the first generate call
	Rest       time.Duration // pause after each evaluation
	Dedup      bool          // hide perceptual duplicates from the evaluator
}

// NewSelector builds a selector from cfg. The evaluator is only attached
// when cfg.Evaluate is set.
func NewSelector(cfg *Config) *Selector {
	cfg.defaults()
	s := &Selector{
		MaxRetries: cfg.MaxEvalRetries,
		Backoff:    cfg.EvalBackoff,
		Settle:     cfg.EvalSettle,
		Rest:       cfg.EvalRest,
		Dedup:      cfg.DedupCandidates,
	}
	if cfg.Evaluate {
		s.Evaluator = cfg.Evaluator
	}
	return s
}

func (s *Selector) defaults() {
	if s.MaxRetries <= 0 {
		s.MaxRetries = DefaultMaxEvalRetries
	}
	if s.Backoff <= 0 {
		s.Backoff = defaultEvalBackoff
	}
}

// Select chooses among candidates (ordered by rank) and returns the chosen
// path with the outcome. It never fails: evaluator problems become a
// FellBackToDefault outcome. An empty candidate list yields an empty path.
func (s *Selector) Select(ctx context.Context, candidates []string, keyword string) (string, Outcome) {
	s.defaults()
	if len(candidates) == 0 {
		return "", FellBackToDefault(ReasonNoCandidates)
	}

	o := Selected(1)
	if s.Evaluator != nil {
		o = s.evaluate(ctx, candidates, keyword)
		_ = sleep(ctx, s.Rest)
		if o.FellBack {
			slog.Info("imagepick: selection fell back to first candidate",
				"keyword", keyword, "reason", o.Reason, "response", o.Response)
		}
	}
	return candidates[o.Index-1], o
}

func (s *Selector) evaluate(ctx context.Context, candidates []string, keyword string) Outcome {
	shown := make([]int, len(candidates)) // shown position → candidate index
	for i := range candidates {
		shown[i] = i
	}
	if s.Dedup {
		shown = uniqueIndexes(candidates)
	}

	var uploads []Upload
	var uploaded []int
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		for _, u := range uploads {
			if err := s.Evaluator.Delete(cleanupCtx, u); err != nil {
				slog.Warn("imagepick: failed to delete evaluator upload", "name", u.Name, "error", err.Error())
			}
		}
	}()

	for _, ci := range shown {
		u, err := s.Evaluator.Upload(ctx, candidates[ci])
		if err != nil {
			slog.Warn("imagepick: evaluator upload failed", "path", candidates[ci], "error", err.Error())
			continue
		}
		uploads = append(uploads, u)
		uploaded = append(uploaded, ci)
	}
	if len(uploads) == 0 {
		return FellBackToDefault(ReasonUploadFailed)
	}

	if err := sleep(ctx, s.Settle); err != nil {
		return FellBackToDefault(ReasonRetriesSpent)
	}

	prompt := SelectionPrompt(keyword, len(uploads))
	for attempt := range s.MaxRetries {
		if attempt > 0 {
			wait := s.Backoff << attempt
			slog.Info("imagepick: retrying evaluation", "keyword", keyword, "attempt", attempt+1, "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return FellBackToDefault(ReasonRetriesSpent)
			}
		}

		resp, err := s.Evaluator.Generate(ctx, prompt, uploads)
		if err != nil {
			if IsTransient(err) {
				slog.Warn("imagepick: transient evaluator error", "keyword", keyword, "attempt", attempt+1, "error", err.Error())
				continue
			}
			slog.Warn("imagepick: evaluator error", "keyword", keyword, "error", err.Error())
			return FellBackToDefault(ReasonEvaluatorError)
		}

		idx, err := ParseIndex(resp, len(uploads))
		if err != nil {
			reason := ReasonUnparseable
			if idx != 0 {
				reason = ReasonOutOfRange
			}
			o := FellBackToDefault(reason)
			o.Response = strings.TrimSpace(resp)
			return o
		}
		o := Selected(uploaded[idx-1] + 1)
		o.Response = strings.TrimSpace(resp)
		return o
	}
	return FellBackToDefault(ReasonRetriesSpent)
}

// Materialize copies the chosen candidate to dest. When chosen is missing
// the first existing candidate in rank order is used instead. It returns
// the path actually copied.
func Materialize(chosen string, candidates []string, dest string) (string, error) {
	src := ""
	if chosen != "" && Exists(chosen) {
		src = chosen
	} else {
		for _, c := range candidates {
			if Exists(c) {
				src = c
				break
			}
		}
	}
	if src == "" {
		return "", ErrNoCandidates
	}
	if err := CopyFile(src, dest); err != nil {
		return "", fmt.Errorf("materialize %s: %w", src, err)
	}
	return src, nil
}
