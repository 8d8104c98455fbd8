package calendar

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/umputun/hallboard/pkg/config"
	"github.com/umputun/hallboard/pkg/domain"
)

// Fetcher retrieves one raw feed payload or fails after its internal retries.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) ([]byte, error)
}

// Result is the ingestion boundary shape. It is always structurally valid:
// Err set means Events is empty and the caller should keep showing its
// previous state; Warning set alongside events means partial success and is
// informational, not an error.
type Result struct {
	Events  []domain.Occurrence `json:"events"`
	Err     string              `json:"error,omitempty"`
	Warning string              `json:"warning,omitempty"`
}

// Failed reports whether the whole run failed (no feed produced events).
func (r Result) Failed() bool { return r.Err != "" }

// Pipeline runs one full ingestion cycle: concurrent fetch+parse+expand per
// source, a fan-in barrier, then merge into a single ordered set. Each run
// builds a fresh result; nothing is cached between runs.
type Pipeline struct {
	fetcher  Fetcher
	parser   *Parser
	expander *Expander
}

// NewPipeline creates a pipeline producing occurrences in loc.
func NewPipeline(fetcher Fetcher, loc *time.Location) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		parser:   NewParser(loc),
		expander: NewExpander(loc),
	}
}

// sourceResult is the outcome of one fetch+parse+expand attempt for one
// source. A failed source never blocks occurrences from the others.
type sourceResult struct {
	events []domain.Occurrence
	err    error
}

// Run ingests all sources for the window [now, now+horizonDays]. Sources are
// fetched concurrently; the merge starts only after every source reported.
func (p *Pipeline) Run(ctx context.Context, sources []Source, now time.Time, horizonDays int) Result {
	if len(sources) == 0 {
		return Result{Events: []domain.Occurrence{}}
	}
	if horizonDays <= 0 {
		horizonDays = 30
	}
	from, to := now, now.AddDate(0, 0, horizonDays)

	results := make([]sourceResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			results[i] = p.runSource(gctx, src, from, to)
			return nil // per-source failures are recorded, never abort the group
		})
	}
	_ = g.Wait() // fan-in barrier

	return p.merge(sources, results)
}

// runSource executes the per-feed pipeline: fetch, parse, expand.
func (p *Pipeline) runSource(ctx context.Context, src Source, from, to time.Time) sourceResult {
	body, err := p.fetcher.Fetch(ctx, src)
	if err != nil {
		return sourceResult{err: err}
	}

	events, err := p.parser.Parse(src, body)
	if err != nil {
		return sourceResult{err: fmt.Errorf("feed %d: %w", src.Index, err)}
	}

	return sourceResult{events: p.expander.Expand(events, from, to, src.Index)}
}

// merge concatenates successful sources in source order and sorts by start.
// The sort is stable, so occurrences with equal starts keep their per-source
// expansion order, then ascend by source index.
func (p *Pipeline) merge(sources []Source, results []sourceResult) Result {
	merged := make([]domain.Occurrence, 0)
	var failures []string

	for i, res := range results {
		if res.err != nil {
			failures = append(failures, fmt.Sprintf("feed %d (%s): %v", i, sources[i].Name, res.err))
			continue
		}
		merged = append(merged, res.events...)
	}

	if len(failures) == len(sources) {
		err := "all calendar feeds failed: " + strings.Join(failures, "; ")
		log.Printf("[ERROR] %s", err)
		return Result{Events: []domain.Occurrence{}, Err: err}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })

	res := Result{Events: merged}
	if len(failures) > 0 {
		res.Warning = fmt.Sprintf("%d of %d feeds failed: %s", len(failures), len(sources), strings.Join(failures, "; "))
		log.Printf("[WARN] partial ingest: %s", res.Warning)
	}
	log.Printf("[INFO] ingested %d occurrences from %d feeds", len(merged), len(sources)-len(failures))
	return res
}

// SourcesFromConfig converts configured feeds to pipeline sources, assigning
// stable indexes by list position.
func SourcesFromConfig(feeds []config.Feed) []Source {
	sources := make([]Source, 0, len(feeds))
	for i, f := range feeds {
		sources = append(sources, Source{Index: i, URL: f.URL, Name: f.Name})
	}
	return sources
}
