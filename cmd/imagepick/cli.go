package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/anatolykoptev/go-imagepick"
)

const (
	exitOK          = 0
	exitUsage       = 2
	exitConfigError = 3
)

const usage = `usage: imagepick <command> [flags]

commands:
  search   search and download candidate images
  select   choose a final image from existing candidates
  run      search, download and select in one pass
  audit    check final images and optionally delete corrupted ones

flags:
  -env FILE        .env file to load (default .env)
  -keywords FILE   keyword list (overrides KEYWORDS_FILE)
  -ids LIST        ids or id ranges, e.g. 1-1:1-20,3-4 (overrides PROCESS_IDS)
  -parts LIST      partitions, e.g. 1,2 (overrides PROCESS_PARTS)
  -start N         first index (overrides START_INDEX)
  -end N           end index, exclusive (overrides END_INDEX)
  -eval            enable evaluator selection (overrides USE_GEMINI_EVAL)
  -delete          audit: delete corrupted final images
`

// invocation is a parsed command line. Pointer fields are nil when the
// flag was not given, so settings from the environment stay in effect.
type invocation struct {
	command  string
	mode     imagepick.Mode
	envFile  string
	keywords string
	ids      *string
	parts    *string
	start    *int
	end      *int
	eval     *bool
	delete   bool
}

var errUsage = errors.New("usage")

func parseInvocation(args []string) (invocation, error) {
	if len(args) == 0 {
		return invocation{}, fmt.Errorf("%w: missing command", errUsage)
	}
	inv := invocation{command: args[0]}
	switch inv.command {
	case "search", "select", "run":
		mode, err := imagepick.ParseMode(inv.command)
		if err != nil {
			return invocation{}, fmt.Errorf("%w: %v", errUsage, err)
		}
		inv.mode = mode
	case "audit":
	default:
		return invocation{}, fmt.Errorf("%w: unknown command %q", errUsage, inv.command)
	}

	fs := flag.NewFlagSet("imagepick "+inv.command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&inv.envFile, "env", ".env", "")
	fs.StringVar(&inv.keywords, "keywords", "", "")
	ids := fs.String("ids", "", "")
	parts := fs.String("parts", "", "")
	start := fs.Int("start", 0, "")
	end := fs.Int("end", 0, "")
	eval := fs.Bool("eval", false, "")
	fs.BoolVar(&inv.delete, "delete", false, "")

	if err := fs.Parse(args[1:]); err != nil {
		return invocation{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 0 {
		return invocation{}, fmt.Errorf("%w: unexpected arguments %q", errUsage, strings.Join(fs.Args(), " "))
	}
	if inv.delete && inv.command != "audit" {
		return invocation{}, fmt.Errorf("%w: -delete only applies to audit", errUsage)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "ids":
			inv.ids = ids
		case "parts":
			inv.parts = parts
		case "start":
			inv.start = start
		case "end":
			inv.end = end
		case "eval":
			inv.eval = eval
		}
	})
	return inv, nil
}
