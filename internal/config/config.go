// Package config loads process settings from a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/anatolykoptev/go-imagepick"
	"github.com/anatolykoptev/go-imagepick/internal/cache"
	"github.com/anatolykoptev/go-imagepick/internal/mirror"
)

// Evaluator backends.
const (
	EvaluatorGemini = "gemini"
	EvaluatorOpenAI = "openai"
)

// Settings is the full process configuration. It is read once at startup.
type Settings struct {
	// Search
	APIKey           string
	EngineID         string
	ImgSize          string
	ImgType          string
	ImgColorType     string
	ImgDominantColor string
	FileType         string
	DateRestrict     string
	SortByDate       bool
	ExcludeWatermark bool
	NumResults       int

	// Evaluation
	Evaluate     bool
	Evaluator    string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIURL    string
	OpenAIModel  string

	// Keyword selection
	KeywordsFile string
	ProcessIDs   string
	ProcessParts string
	StartIndex   int
	EndIndex     int

	// Layout and filtering
	CandidatesDir   string
	OutputDir       string
	RejectStock     bool
	DedupCandidates bool

	// Optional collaborators
	RedisAddr     string
	RedisPassword string
	RedisTTL      time.Duration
	Mirror        mirror.Options

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

var defaults = map[string]any{
	"img_size":          "xlarge",
	"img_type":          "photo",
	"exclude_watermark": true,
	"num_results":       imagepick.DefaultNumResults,
	"use_gemini_eval":   false,
	"evaluator":         EvaluatorGemini,
	"keywords_file":     "keywords.json",
	"candidates_dir":    imagepick.DefaultCandidatesDir,
	"output_dir":        imagepick.DefaultOutputDir,
	"redis_ttl":         cache.DefaultTTL,
	"mirror_use_ssl":    true,
	"log_level":         "info",
	"log_format":        "text",
}

// Load reads envFile (if it exists) into the environment without overriding
// variables that are already set, then binds the environment through viper.
// An empty envFile means ".env".
func Load(envFile string) (*Settings, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	s := &Settings{
		APIKey:           v.GetString("google_custom_api_key"),
		EngineID:         v.GetString("google_cx"),
		ImgSize:          v.GetString("img_size"),
		ImgType:          v.GetString("img_type"),
		ImgColorType:     v.GetString("img_color_type"),
		ImgDominantColor: v.GetString("img_dominant_color"),
		FileType:         v.GetString("file_type"),
		DateRestrict:     v.GetString("date_restrict"),
		SortByDate:       v.GetBool("sort_by_date"),
		ExcludeWatermark: v.GetBool("exclude_watermark"),
		NumResults:       v.GetInt("num_results"),

		Evaluate:     v.GetBool("use_gemini_eval"),
		Evaluator:    strings.ToLower(v.GetString("evaluator")),
		GeminiAPIKey: v.GetString("google_ai_api_key"),
		GeminiModel:  v.GetString("gemini_model"),
		OpenAIAPIKey: v.GetString("openai_api_key"),
		OpenAIURL:    v.GetString("openai_base_url"),
		OpenAIModel:  v.GetString("openai_model"),

		KeywordsFile: v.GetString("keywords_file"),
		ProcessIDs:   v.GetString("process_ids"),
		ProcessParts: v.GetString("process_parts"),
		StartIndex:   v.GetInt("start_index"),
		EndIndex:     v.GetInt("end_index"),

		CandidatesDir:   v.GetString("candidates_dir"),
		OutputDir:       v.GetString("output_dir"),
		RejectStock:     v.GetBool("reject_stock_metadata"),
		DedupCandidates: v.GetBool("dedup_candidates"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisTTL:      v.GetDuration("redis_ttl"),
		Mirror: mirror.Options{
			Backend:   v.GetString("mirror_backend"),
			Endpoint:  v.GetString("mirror_endpoint"),
			Bucket:    v.GetString("mirror_bucket"),
			Prefix:    v.GetString("mirror_prefix"),
			AccessKey: v.GetString("mirror_access_key"),
			SecretKey: v.GetString("mirror_secret_key"),
			Region:    v.GetString("mirror_region"),
			UseSSL:    v.GetBool("mirror_use_ssl"),
		},

		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),
		LogFile:   v.GetString("log_file"),
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.NumResults <= 0 || s.NumResults > imagepick.MaxSearchResults {
		return fmt.Errorf("NUM_RESULTS must be in 1..%d, got %d", imagepick.MaxSearchResults, s.NumResults)
	}
	if s.Evaluator != EvaluatorGemini && s.Evaluator != EvaluatorOpenAI {
		return fmt.Errorf("EVALUATOR must be %q or %q, got %q", EvaluatorGemini, EvaluatorOpenAI, s.Evaluator)
	}
	if err := s.Filters().Validate(); err != nil {
		return fmt.Errorf("DATE_RESTRICT: %w", err)
	}
	return nil
}

// RequireSearch reports missing search credentials.
func (s *Settings) RequireSearch() error {
	var missing []string
	if s.APIKey == "" {
		missing = append(missing, "GOOGLE_CUSTOM_API_KEY")
	}
	if s.EngineID == "" {
		missing = append(missing, "GOOGLE_CX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: set %s", imagepick.ErrMissingCredentials, strings.Join(missing, " and "))
	}
	return nil
}

// RequireEvaluator reports a missing key for the selected evaluator.
func (s *Settings) RequireEvaluator() error {
	switch {
	case s.Evaluator == EvaluatorGemini && s.GeminiAPIKey == "":
		return errors.New("GOOGLE_AI_API_KEY is required for gemini evaluation")
	case s.Evaluator == EvaluatorOpenAI && s.OpenAIAPIKey == "":
		return errors.New("OPENAI_API_KEY is required for openai evaluation")
	}
	return nil
}

// Filters returns the search filters.
func (s *Settings) Filters() imagepick.Filters {
	return imagepick.Filters{
		ImgSize:          s.ImgSize,
		ImgType:          s.ImgType,
		ColorType:        s.ImgColorType,
		DominantColor:    s.ImgDominantColor,
		FileType:         s.FileType,
		DateRestrict:     s.DateRestrict,
		SortByDate:       s.SortByDate,
		ExcludeWatermark: s.ExcludeWatermark,
	}
}

// Selection returns the keyword selection. END_INDEX of 0 means the whole list.
func (s *Settings) Selection() imagepick.Selection {
	return imagepick.ParseSelection(s.ProcessIDs, s.ProcessParts, s.StartIndex, s.EndIndex)
}

// PipelineConfig maps settings onto the library configuration. Collaborators
// (evaluator, cache, mirror) are attached by the caller.
func (s *Settings) PipelineConfig(mode imagepick.Mode) imagepick.Config {
	return imagepick.Config{
		APIKey:          s.APIKey,
		EngineID:        s.EngineID,
		Filters:         s.Filters(),
		NumResults:      s.NumResults,
		CandidatesDir:   s.CandidatesDir,
		OutputDir:       s.OutputDir,
		Mode:            mode,
		Evaluate:        s.Evaluate,
		RejectStock:     s.RejectStock,
		DedupCandidates: s.DedupCandidates,
	}
}
