package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/engine"
	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/rewrite"
	"github.com/sanyyao/fontpub/telemetry"
)

// Oracle reports whether a font version is already published
type Oracle interface {
	Exists(ctx context.Context, id identity.Identity) bool
}

// OrchestratorConfig configures a publish run
type OrchestratorConfig struct {
	SourceDir string
	DistDir   string
	Filter    Filter
	Clean     bool // Remove DistDir before processing
	Workers   int  // Assets processed concurrently
	Engine    cfg.EngineConfiguration

	// AssetPrefix returns the absolute URL prefix, ending in a slash, that
	// replaces relative chunk references for family/version
	AssetPrefix func(family, version string) string
}

// Orchestrator drives the per-asset loop: resolve, probe, split, rewrite
type Orchestrator struct {
	config OrchestratorConfig
	oracle Oracle
	engine engine.Engine
	now    func() time.Time
}

// Summary is the result of one publish run. Signal is set when at least one
// asset was published; it gates every downstream step.
type Summary struct {
	RunID     string
	StartedAt time.Time
	Outcomes  []Outcome // In scan order
	Published int
	Skipped   int
	Failed    int
	Signal    bool
	Releases  []Release
}

// NewOrchestrator validates config and creates an orchestrator
func NewOrchestrator(config OrchestratorConfig, oracle Oracle, eng engine.Engine) (*Orchestrator, error) {
	if config.SourceDir == "" {
		return nil, fmt.Errorf("source directory is required")
	}
	if config.DistDir == "" {
		return nil, fmt.Errorf("dist directory is required")
	}
	if config.AssetPrefix == nil {
		return nil, fmt.Errorf("asset prefix function is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if config.Filter == nil {
		f, err := NewGlobFilter(nil, nil)
		if err != nil {
			return nil, err
		}
		config.Filter = f
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}

	return &Orchestrator{config: config, oracle: oracle, engine: eng, now: time.Now}, nil
}

// OrchestratorConfigFrom builds an orchestrator configuration from c
func OrchestratorConfigFrom(c *cfg.Configuration) (OrchestratorConfig, error) {
	filter, err := NewGlobFilter(c.Source.Patterns, c.Source.Exclude)
	if err != nil {
		return OrchestratorConfig{}, err
	}
	return OrchestratorConfig{
		SourceDir:   c.Source.Dir,
		DistDir:     c.Source.DistDir,
		Filter:      filter,
		Clean:       c.Source.CleanDist,
		Workers:     c.Source.Workers,
		Engine:      c.Engine,
		AssetPrefix: c.AssetPrefix,
	}, nil
}

// Run processes every source file. Per-asset failures are recorded in the
// summary; an error is returned only when the run could not start (source
// scan or dist cleanup failed).
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	summary := Summary{StartedAt: o.now().UTC()}
	summary.RunID = runID(summary.StartedAt)

	if o.config.Clean {
		if err := CleanDist(o.config.DistDir); err != nil {
			return summary, err
		}
	}

	files, err := Scan(o.config.SourceDir, o.config.Filter)
	if err != nil {
		return summary, err
	}

	log.Info().
		Str("run", summary.RunID).
		Int("assets", len(files)).
		Int("workers", o.config.Workers).
		Msg("Publish run started")

	summary.Outcomes = o.processAll(ctx, files)

	for _, out := range summary.Outcomes {
		telemetry.AssetsTotal.With(out.Status.String()).Inc()
		switch out.Status {
		case StatusPublished:
			summary.Published++
			summary.Signal = true
			summary.Releases = append(summary.Releases, o.release(summary, out))
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
	}
	telemetry.LastRunPublished.Set(float64(summary.Published))

	log.Info().
		Str("run", summary.RunID).
		Int("published", summary.Published).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Bool("signal", summary.Signal).
		Msg("Publish run finished")

	return summary, nil
}

// processAll runs Process over files with at most Workers in flight and
// returns outcomes in scan order. Files of one family go to the same worker
// in scan order, so the family's latest pointer ends up holding the last
// version scanned no matter how many workers run.
func (o *Orchestrator) processAll(ctx context.Context, files []string) []Outcome {
	if o.config.Workers == 1 || len(files) < 2 {
		outcomes := make([]Outcome, 0, len(files))
		for _, f := range files {
			outcomes = append(outcomes, o.Process(ctx, f))
		}
		return outcomes
	}

	promises := make([]*future.Promise[Outcome], len(files))
	futures := make([]*future.Future[Outcome], len(files))
	for i := range files {
		promises[i] = future.NewPromise[Outcome]()
		futures[i] = promises[i].Future()
	}

	groups := familyGroups(files)
	next := make(chan []int)
	var wg sync.WaitGroup
	for w := 0; w < o.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range next {
				for _, i := range group {
					promises[i].Set(o.Process(ctx, files[i]), nil)
				}
			}
		}()
	}
	for _, group := range groups {
		next <- group
	}
	close(next)

	outcomes := make([]Outcome, len(files))
	for i, f := range futures {
		outcomes[i], _ = f.Get()
	}
	wg.Wait()
	return outcomes
}

// familyGroups partitions file indexes by resolved family, keeping scan order
// inside each group. Unparseable names each get a group of their own.
func familyGroups(files []string) [][]int {
	var groups [][]int
	byFamily := make(map[string]int)
	for i, f := range files {
		res := identity.Resolve(f)
		if !res.OK {
			groups = append(groups, []int{i})
			continue
		}
		g, ok := byFamily[res.Parsed.Family]
		if !ok {
			g = len(groups)
			byFamily[res.Parsed.Family] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}
	return groups
}

// Process takes one source file through resolve, probe, split and rewrite.
// It never panics and never returns an error: failures are part of the
// outcome.
func (o *Orchestrator) Process(ctx context.Context, path string) (out Outcome) {
	start := time.Now()
	out.Filename = filepath.Base(path)
	defer func() { out.Duration = time.Since(start) }()

	res := identity.Resolve(path)
	if !res.OK {
		out.Status = StatusFailed
		out.Stage = StageResolve
		out.Err = errors.New(res.Reason)
		log.Warn().Str("file", out.Filename).Str("reason", res.Reason).Msg("Unparseable font filename, skipping")
		return out
	}
	id := res.Parsed
	out.Identity = id

	if o.oracle.Exists(ctx, id) {
		out.Status = StatusSkipped
		log.Info().Str("family", id.Family).Str("version", id.Version).Msg("Already published, skipping")
		return out
	}

	outDir := filepath.Join(o.config.DistDir, id.Family, id.Version)
	log.Info().
		Str("family", id.Family).
		Str("version", id.Version).
		Str("style", id.Style).
		Str("css_family", id.CSSFamily).
		Msg("Splitting font")

	// The oracle reported absence, so anything already here is stale
	if err := os.RemoveAll(outDir); err != nil {
		return o.fail(out, StageSplit, fmt.Errorf("clear %s: %w", outDir, err))
	}

	job := engine.JobFor(o.config.Engine, path, outDir, id.CSSFamily)
	if err := o.engine.Split(ctx, job); err != nil {
		o.discard(outDir)
		return o.fail(out, StageSplit, err)
	}

	rw, err := rewrite.Artifact(o.config.DistDir, id, o.config.AssetPrefix(id.Family, id.Version))
	if err != nil {
		o.discard(outDir)
		if errors.Is(err, rewrite.ErrLatestPointer) {
			return o.fail(out, StageLatest, err)
		}
		return o.fail(out, StageRewrite, err)
	}

	out.Status = StatusPublished
	out.HasCSS = rw.Found
	out.Digest = rw.Digest

	ev := log.Info().Str("family", id.Family).Str("version", id.Version)
	if rw.Found {
		ev = ev.Int("urls", rw.Replacements).Str("latest", id.LatestKey())
	} else {
		ev = ev.Bool("no_css", true)
	}
	ev.Msg("Published")

	return out
}

// discard removes a failed asset's output so the upload step never sees a
// partial or un-rewritten artifact
func (o *Orchestrator) discard(outDir string) {
	if err := os.RemoveAll(outDir); err != nil {
		log.Error().Err(err).Str("dir", outDir).Msg("Failed to remove partial output")
	}
}

func (o *Orchestrator) fail(out Outcome, stage Stage, err error) Outcome {
	out.Status = StatusFailed
	out.Stage = stage
	out.Err = err
	log.Error().
		Err(err).
		Str("file", out.Filename).
		Str("family", out.Identity.Family).
		Str("version", out.Identity.Version).
		Str("stage", string(stage)).
		Msg("Publish failed")
	return out
}

func (o *Orchestrator) release(s Summary, out Outcome) Release {
	id := out.Identity
	return Release{
		RunID:       s.RunID,
		Family:      id.Family,
		Version:     id.Version,
		Style:       id.Style,
		CSSFamily:   id.CSSFamily,
		ArtifactKey: id.ArtifactKey(),
		LatestKey:   id.LatestKey(),
		URL:         o.config.AssetPrefix(id.Family, id.Version) + identity.ArtifactName,
		Digest:      out.Digest,
		PublishedAt: s.StartedAt,
	}
}

func runID(t time.Time) string {
	return t.Format("20060102T150405.000Z")
}
