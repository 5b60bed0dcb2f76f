package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sanyyao/fontpub/cfg"
	"github.com/sanyyao/fontpub/deploy"
	"github.com/sanyyao/fontpub/engine"
	"github.com/sanyyao/fontpub/identity"
	"github.com/sanyyao/fontpub/index"
	"github.com/sanyyao/fontpub/oracle"
	"github.com/sanyyao/fontpub/pipeline"
	"github.com/sanyyao/fontpub/preview"
	"github.com/sanyyao/fontpub/publisher"
	"github.com/sanyyao/fontpub/state"
	"github.com/sanyyao/fontpub/storage"
	"github.com/sanyyao/fontpub/storage/s3"
	"github.com/sanyyao/fontpub/telemetry"
)

// probeTimeout bounds a single existence probe
const probeTimeout = 30 * time.Second

// app holds the collaborators shared by every command
type app struct {
	config   *cfg.Configuration
	store    storage.Store
	state    *state.Store
	registry *publisher.Registry // nil without a ledger directory
}

func newApp(c *cfg.Configuration) (*app, error) {
	store, err := newStore(c.Storage)
	if err != nil {
		return nil, err
	}
	st, err := state.NewStore(c.State.Path)
	if err != nil {
		return nil, err
	}

	a := &app{config: c, store: store, state: st}
	if c.Ledger.Dir != "" {
		a.registry, err = publisher.NewRegistry(publisher.RegistryConfig{
			LedgerDir:   c.Ledger.Dir,
			SinkConfigs: c.Announce.Sinks,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.registry != nil {
		a.registry.Close()
	}
}

func newStore(c cfg.StorageConfiguration) (storage.Store, error) {
	switch c.Type {
	case cfg.StorageS3:
		return s3.New(c.S3)
	case cfg.StorageLocal:
		return storage.NewLocalStore(c.Local.Dir, c.Local.PageSize)
	case cfg.StorageMemory:
		log.Warn().Msg("Using in-memory storage, nothing will be persisted")
		return storage.NewMemoryStore("memory", 0), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", c.Type)
	}
}

func (a *app) sequencer() (*pipeline.Sequencer, error) {
	steps := pipeline.Steps{
		Split:      a.split,
		Upload:     a.upload,
		CloudIndex: a.cloudIndex,
		LocalIndex: a.localIndex,
		Clear:      a.state.Clear,
	}
	if a.registry != nil {
		steps.Announce = a.announce
	}
	return pipeline.New(steps)
}

func (a *app) fire(ctx context.Context) error {
	seq, err := a.sequencer()
	if err != nil {
		return err
	}
	report, err := seq.Run(ctx)
	logReport(report)
	return err
}

func (a *app) deployPending(ctx context.Context) error {
	rec, err := a.state.Load()
	if err != nil {
		return err
	}
	seq, err := a.sequencer()
	if err != nil {
		return err
	}
	report, err := seq.Resume(ctx, signalFrom(rec))
	logReport(report)
	return err
}

// split runs the publish loop. A raised signal is also persisted so that an
// aborted or split-only run can be finished by deploy-pending.
func (a *app) split(ctx context.Context) (pipeline.Signal, error) {
	if rec, err := a.state.Load(); err == nil && rec.Pending && a.config.Source.CleanDist {
		log.Warn().
			Str("run", rec.RunID).
			Msg("A pending signal exists and dist is about to be cleaned, its artifacts will be split again")
	}

	oc, err := publisher.OrchestratorConfigFrom(a.config)
	if err != nil {
		return pipeline.Signal{}, err
	}
	orch, err := publisher.NewOrchestrator(oc, oracle.New(a.store, probeTimeout), engine.NewCommandEngine(a.config.Engine))
	if err != nil {
		return pipeline.Signal{}, err
	}

	summary, err := orch.Run(ctx)
	if err != nil {
		return pipeline.Signal{}, err
	}
	if !summary.Signal {
		return pipeline.Signal{RunID: summary.RunID}, nil
	}

	rec, err := a.state.Raise(summary.RunID, summary.Releases)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to persist publish signal")
		return pipeline.Signal{Raised: true, RunID: summary.RunID, Releases: summary.Releases}, nil
	}
	return signalFrom(rec), nil
}

func signalFrom(rec state.Record) pipeline.Signal {
	return pipeline.Signal{Raised: rec.Pending, RunID: rec.RunID, Releases: rec.Releases}
}

func (a *app) upload(ctx context.Context) error {
	_, err := deploy.NewUploader(a.store, a.config.Upload).Upload(ctx, a.config.Source.DistDir)
	return err
}

func (a *app) indexBuilder() *index.Builder {
	return index.NewBuilder(a.store, a.config.CDN.IndexBase, a.config.Index)
}

func (a *app) cloudIndex(ctx context.Context) error {
	_, err := a.indexBuilder().BuildLatest(ctx)
	return err
}

func (a *app) localIndex(ctx context.Context) error {
	_, err := a.indexBuilder().BuildFull(ctx)
	return err
}

// announce records the releases in the ledger, then drains every sink
func (a *app) announce(ctx context.Context, releases []publisher.Release) error {
	if err := a.registry.Record(releases); err != nil {
		return err
	}
	var errs []error
	for _, res := range a.registry.Announce(ctx) {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", res.Sink, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) nuke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("nuke", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "Confirm deletion of every object in the bucket")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return fmt.Errorf("refusing to empty %s without -yes", a.store.Bucket())
	}

	log.Warn().Str("bucket", a.store.Bucket()).Msg("Deleting every object")
	report, err := storage.Purge(ctx, a.store, a.config.Storage.DeleteBatchSize)
	log.Info().
		Int("listed", report.Listed).
		Int("deleted", report.Deleted).
		Int("failed", report.Failed).
		Int("batches", report.Batches).
		Msg("Purge finished")
	return err
}

func (a *app) preview(ctx context.Context) error {
	pc := preview.Config{
		DistDir:   a.config.Source.DistDir,
		IndexPath: a.config.Index.LocalPath,
		AssetBase: a.config.CDN.AssetBase,
		State:     a.state,
		Metrics:   telemetry.GetMetricsHandler(),
	}
	if a.registry != nil {
		pc.Ledger = a.registry.Ledger()
	}
	srv, err := preview.New(pc)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(a.config.Preview.BindAddress, strconv.Itoa(a.config.Preview.Port))
	return srv.ListenAndServe(ctx, addr)
}

func (a *app) status(w io.Writer, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	n := fs.Int("n", 10, "Number of recent releases to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec, err := a.state.Load()
	if err != nil {
		return err
	}
	if rec.Pending {
		fmt.Fprintf(w, "Pending signal from run %s (%d releases, raised %s)\n",
			rec.RunID, len(rec.Releases), rec.RaisedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "No pending signal")
	}

	if a.registry == nil {
		return nil
	}
	ledger := a.registry.Ledger()
	releases, err := ledger.Recent(*n)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "\nRecent releases (last sequence %d)\n", ledger.LastSeq())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tFAMILY\tVERSION\tSTYLE\tPUBLISHED")
	for _, r := range releases {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Family, r.Version, r.Style, r.PublishedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, sc := range a.config.Announce.Sinks {
		cursor, err := ledger.GetCursor(sc.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "Sink %s: delivered through %d, %d owed\n", sc.Name, cursor, ledger.LastSeq()-cursor)
	}
	return nil
}

func resolveCommand(w io.Writer, files []string) int {
	if len(files) == 0 {
		fmt.Fprintln(w, "resolve: no filenames given")
		return 1
	}
	code := 0
	for _, f := range files {
		res := identity.Resolve(f)
		if !res.OK {
			fmt.Fprintf(w, "%s\tunparseable: %s\n", f, res.Reason)
			code = 1
			continue
		}
		id := res.Parsed
		fmt.Fprintf(w, "%s\tfamily=%s version=%s style=%s css=%q key=%s latest=%s\n",
			f, id.Family, id.Version, id.Style, id.CSSFamily, id.ArtifactKey(), id.LatestKey())
	}
	return code
}

func logReport(r pipeline.Report) {
	ev := log.Info()
	if r.State == pipeline.StateAborted {
		ev = log.Error()
	}
	for _, s := range r.Steps {
		ev = ev.Dur(string(s.State), s.Duration)
	}
	ev.Str("state", string(r.State)).
		Bool("signal", r.Signal.Raised).
		Int("releases", len(r.Signal.Releases)).
		Msg("Pipeline finished")
}
