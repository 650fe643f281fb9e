// Command imagepick finds, downloads and selects one image per keyword.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anatolykoptev/go-imagepick"
	"github.com/anatolykoptev/go-imagepick/internal/cache"
	"github.com/anatolykoptev/go-imagepick/internal/config"
	"github.com/anatolykoptev/go-imagepick/internal/evaluator/gemini"
	"github.com/anatolykoptev/go-imagepick/internal/evaluator/openai"
	"github.com/anatolykoptev/go-imagepick/internal/logging"
	"github.com/anatolykoptev/go-imagepick/internal/mirror"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	inv, err := parseInvocation(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, usage)
		return exitUsage
	}

	settings, err := config.Load(inv.envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "imagepick:", err)
		return exitConfigError
	}
	applyOverrides(settings, inv)

	logger, runID, closeLog, err := logging.Setup(logging.Options{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
		File:   settings.LogFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "imagepick:", err)
		return exitConfigError
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	all, err := imagepick.LoadKeywordsFile(settings.KeywordsFile)
	if err != nil {
		logger.Error("imagepick: cannot load keywords", "file", settings.KeywordsFile, "error", err.Error())
		return exitConfigError
	}
	sel := settings.Selection()
	records := sel.Apply(all)
	logger.Info("imagepick: keywords selected", "command", inv.command, "selection", sel.String(),
		"selected", len(records), "total", len(all))

	if inv.command == "audit" {
		return audit(settings, records, inv.delete)
	}

	cfg, err := buildConfig(ctx, settings, inv.mode)
	if err != nil {
		logger.Error("imagepick: invalid configuration", "error", err.Error())
		return exitConfigError
	}
	p, err := imagepick.NewPipeline(cfg)
	if err != nil {
		logger.Error("imagepick: invalid configuration", "error", err.Error())
		return exitConfigError
	}

	stats := p.Run(ctx, records)
	fmt.Printf("run %s: %d processed, %d skipped, %d downloaded, %d failed downloads, %d final images, %d evaluator fallbacks\n",
		runID, stats.Processed, stats.Skipped, stats.Downloaded, stats.FailedDownloads, stats.Materialized, stats.Fallbacks)
	return exitOK
}

func applyOverrides(s *config.Settings, inv invocation) {
	if inv.keywords != "" {
		s.KeywordsFile = inv.keywords
	}
	if inv.ids != nil {
		s.ProcessIDs = *inv.ids
	}
	if inv.parts != nil {
		s.ProcessParts = *inv.parts
	}
	if inv.start != nil {
		s.StartIndex = *inv.start
	}
	if inv.end != nil {
		s.EndIndex = *inv.end
	}
	if inv.eval != nil {
		s.Evaluate = *inv.eval
	}
}

// buildConfig checks credentials for the stages mode runs and attaches the
// optional collaborators.
func buildConfig(ctx context.Context, s *config.Settings, mode imagepick.Mode) (imagepick.Config, error) {
	cfg := s.PipelineConfig(mode)

	if mode != imagepick.ModeFinal {
		if err := s.RequireSearch(); err != nil {
			return cfg, err
		}
		if s.RedisAddr != "" {
			c, err := cache.NewRedis(ctx, cache.Options{Addr: s.RedisAddr, Password: s.RedisPassword, TTL: s.RedisTTL})
			if err != nil {
				slog.Warn("imagepick: redis unavailable, search cache disabled", "addr", s.RedisAddr, "error", err.Error())
			} else {
				cfg.Cache = c
			}
		}
	}

	if mode != imagepick.ModeCandidates {
		if s.Evaluate {
			if err := s.RequireEvaluator(); err != nil {
				return cfg, err
			}
			ev, err := newEvaluator(s)
			if err != nil {
				return cfg, err
			}
			cfg.Evaluator = ev
		}

		m, err := mirror.New(ctx, s.Mirror)
		if err != nil {
			return cfg, fmt.Errorf("mirror: %w", err)
		}
		if m != nil {
			cfg.Mirror = m
		}
	}
	return cfg, nil
}

func newEvaluator(s *config.Settings) (imagepick.Evaluator, error) {
	switch s.Evaluator {
	case config.EvaluatorGemini:
		return gemini.New(s.GeminiAPIKey, s.GeminiModel), nil
	case config.EvaluatorOpenAI:
		return openai.New(s.OpenAIAPIKey, s.OpenAIURL, s.OpenAIModel)
	}
	return nil, errors.New("unknown evaluator " + s.Evaluator)
}

func audit(s *config.Settings, records []imagepick.KeywordRecord, del bool) int {
	cfg := s.PipelineConfig(imagepick.ModeFinal)
	report := imagepick.Audit(imagepick.NewCandidateStore(&cfg), records)

	for _, e := range report.Corrupted {
		fmt.Printf("corrupted [%s] %s: %v\n", e.Record.ID, e.Path, e.Err)
	}
	fmt.Printf("valid: %d, corrupted: %d, missing: %d\n", len(report.Valid), len(report.Corrupted), len(report.Missing))

	if del && len(report.Corrupted) > 0 {
		n := report.RemoveCorrupted()
		fmt.Printf("deleted %d corrupted file(s); run select to regenerate them\n", n)
	}
	return exitOK
}
