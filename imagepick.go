package imagepick

import (
	"context"
	"net/http"
	"time"
)

// Defaults applied by Config.defaults.
const (
	DefaultNumResults     = 5
	DefaultCandidatesDir  = "output_candidates"
	DefaultOutputDir      = "output"
	DefaultCooldownEvery  = 10
	DefaultCooldown       = 30 * time.Second
	DefaultMaxEvalRetries = 3
	DefaultEvalSettle     = 2 * time.Second
	DefaultEvalRest       = 3 * time.Second
)

// Upload is a handle to an image held by an Evaluator for the duration of one evaluation.
type Upload struct {
	Name     string // provider-side resource name, used for deletion
	URI      string // reference passed back in Generate (file URI or data: URI)
	MIMEType string
}

// Evaluator abstracts a vision-capable model that picks the best image out of several.
// Implementations live in internal/evaluator.
type Evaluator interface {
	Upload(ctx context.Context, path string) (Upload, error)
	Generate(ctx context.Context, prompt string, uploads []Upload) (string, error)
	Delete(ctx context.Context, u Upload) error
}

// Cache abstracts key-value caching (Redis, sync.Map, etc.)
type Cache interface {
	Key(prefix, value string) string
	Get(ctx context.Context, key string, dest any) bool
	Set(ctx context.Context, key string, value any)
}

// Mirror publishes materialized final images to secondary storage.
type Mirror interface {
	Put(ctx context.Context, key, path string) error
}

// Config holds everything a Pipeline needs. It is built once at startup
// (see internal/config) and never read from the environment by the library.
type Config struct {
	// Search collaborator.
	APIKey     string  // Google Custom Search API key
	EngineID   string  // Custom Search engine id (cx)
	SearchURL  string  // default: DefaultSearchURL
	Filters    Filters // applied to every search
	NumResults int     // candidates per keyword (default: 5, max: 100)

	// Filesystem layout.
	CandidatesDir string // default: "output_candidates"
	OutputDir     string // default: "output"

	// Collaborators. All optional.
	HTTPClient *http.Client // default: http.DefaultClient
	UserAgent  string       // default: "Mozilla/5.0 (compatible; go-imagepick/1.0)"
	Cache      Cache        // search response cache (nil = no caching)
	Evaluator  Evaluator    // nil = always pick the first candidate
	Mirror     Mirror       // nil = no mirroring

	Mode            Mode
	Evaluate        bool // use Evaluator when set
	RejectStock     bool // reject payloads whose metadata names a stock agency
	DedupCandidates bool // hide perceptual duplicates from the evaluator

	// Pacing. Zero values mean "use defaults".
	PageDelay      time.Duration // between search pages (default: 300ms)
	RetryDelay     time.Duration // between download attempts (default: 1s)
	MaxAttempts    int           // download attempts (default: 3)
	MaxEvalRetries int           // evaluator attempts (default: 3)
	EvalBackoff    time.Duration // evaluator backoff unit, doubled per attempt (default: 1s)
	EvalSettle     time.Duration // after uploads, before the first generate call (default: 2s)
	EvalRest       time.Duration // after each evaluation (default: 3s)
	CooldownEvery  int           // evaluated keywords between cooldowns (default: 10)
	Cooldown       time.Duration // cooldown length (default: 30s)

	// Optional callbacks for metrics/logging.
	OnSearchError func(keyword string, page int, err error)
	OnOutcome     func(rec KeywordRecord, o Outcome)
}

// defaults fills zero-value fields with sensible defaults.
func (c *Config) defaults() {
	if c.NumResults <= 0 {
		c.NumResults = DefaultNumResults
	}
	if c.CandidatesDir == "" {
		c.CandidatesDir = DefaultCandidatesDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; go-imagepick/1.0)"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.CooldownEvery <= 0 {
		c.CooldownEvery = DefaultCooldownEvery
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxEvalRetries <= 0 {
		c.MaxEvalRetries = DefaultMaxEvalRetries
	}
	if c.EvalSettle <= 0 {
		c.EvalSettle = DefaultEvalSettle
	}
	if c.EvalRest <= 0 {
		c.EvalRest = DefaultEvalRest
	}
}
