// Package main implements the fraiseql-cache CLI: it validates a cache
// configuration and its compiled-schema metadata, and prints the cascade
// invalidation map the pair produces.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fraiseql/fraiseql-go/internal/cache/cascade"
	"github.com/fraiseql/fraiseql-go/internal/config"
	"github.com/fraiseql/fraiseql-go/internal/logging"
	"github.com/fraiseql/fraiseql-go/internal/schema"
)

func main() {
	code := run(os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fraiseql-cache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "fraiseql-cache.toml", "path to the cache configuration")
	strict := fs.Bool("strict", false, "treat unknown configuration keys as errors")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 1
	}

	logger := logging.New(logging.Options{
		Verbose: *verbose,
		Writer:  stderr,
	})

	res, err := config.Load(*configPath, config.LoadOptions{Strict: *strict})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	for _, warning := range res.Warnings {
		_, _ = fmt.Fprintln(stderr, warning)
	}
	cfg := res.Config

	if cfg.SchemaPath == "" {
		_, _ = fmt.Fprintln(stderr, "schema_path is required")
		return 1
	}
	schemaPath := cfg.SchemaPath
	if !filepath.IsAbs(schemaPath) {
		schemaPath = filepath.Join(filepath.Dir(*configPath), schemaPath)
	}
	s, err := schema.Load(schemaPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	logger.Debug("schema loaded", "path", schemaPath, "version", s.Version)

	if err := checkPublicOperations(s, cfg.PublicOperations); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	printSummary(stdout, cfg, s, cascade.Build(s))
	return 0
}

// checkPublicOperations verifies the configured public operations exist, then
// marks them so key derivation accepts scope-less requests for them.
func checkPublicOperations(s *schema.Schema, names []string) error {
	for _, name := range names {
		q, ok := s.Query(name)
		if !ok {
			return fmt.Errorf("public_operations names unknown query %q", name)
		}
		q.Public = true
	}
	return nil
}

func printSummary(w io.Writer, cfg config.Config, s *schema.Schema, meta *cascade.Metadata) {
	_, _ = fmt.Fprintf(w, "schema version %s: %d entities, %d queries, %d mutations\n",
		s.Version, len(s.Entities), len(s.Queries), len(s.Mutations))
	_, _ = fmt.Fprintf(w, "backend %s, max_entries %d, shards %d, ttl %s\n",
		cfg.Backend, cfg.MaxEntries, cfg.Shards, cfg.TTLDuration())

	names := make([]string, 0, len(s.Mutations))
	for _, m := range s.Mutations {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	for _, name := range names {
		types := meta.Affects(name)
		views := make([]string, 0, len(types))
		for _, typ := range types {
			if view, ok := meta.ViewOf(typ); ok {
				views = append(views, view)
			}
		}
		sort.Strings(views)
		_, _ = fmt.Fprintf(w, "%s -> %s (views: %s)\n",
			name, strings.Join(types, ", "), strings.Join(views, ", "))
	}
}
