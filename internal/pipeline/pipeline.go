package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/v0gel/mason/internal/cdn"
	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/queue"
	"github.com/v0gel/mason/internal/registry"
	"github.com/v0gel/mason/internal/storage"
)

// ScratchPrefix is the remote prefix used for in-progress uploads. Objects
// under it are never considered part of a published build.
const ScratchPrefix = "_scratch/"

// Config holds the knobs of one pipeline instance.
type Config struct {
	// WorkDir is where site checkouts live, one folder per job identifier.
	WorkDir string
	// SourceBucket holds the site archives uploaded by the CMS.
	SourceBucket string
	// BuildCommand is the external build tool, e.g. "grunt".
	BuildCommand string
	// InstallCommand installs site dependencies, e.g. ["npm", "install"].
	InstallCommand []string
	// MaxParallel bounds the build and upload fan-outs. Zero means NumCPU.
	MaxParallel int
	// Production is passed to every build invocation.
	Production bool
	// Protocol prefixes generated absolute site URLs.
	Protocol string
}

func (c *Config) maxParallel() int {
	if c.MaxParallel > 0 {
		return c.MaxParallel
	}
	return runtime.NumCPU()
}

func (c *Config) protocol() string {
	if c.Protocol != "" {
		return c.Protocol
	}
	return "http"
}

// Pipeline turns a reserved build job into a published, CDN-purged site
// bucket. Stages run strictly in order for one job; fan-outs inside a stage
// are bounded by Config.MaxParallel.
type Pipeline struct {
	Queue    queue.Queue       // required
	Registry registry.Registry // required
	Store    storage.Store     // required
	Purger   cdn.Purger        // required
	Config   *Config           // required

	// Tube is the tube this pipeline's jobs live on. Delayed requeues go back
	// onto it so a preview job stays a preview job. Empty means build.
	Tube job.Tube

	// Now is the clock used for delayed-build scheduling. Nil means time.Now.
	Now func() time.Time
}

// state accumulates per-job results. It is owned by exactly one pipeline
// execution and never shared across jobs.
type state struct {
	payload    *job.Data
	identifier string
	site       *registry.Site
	buckets    []registry.Deploy
	folder     string
	dataFile   string
	buildOrder []string
	produced   []Produced
	hasRobots  bool
}

// Handle implements worker.Handler for the build tube.
func (pl *Pipeline) Handle(ctx context.Context, p *job.Payload) error {
	st := &state{payload: &p.Data, identifier: p.Identifier}

	site, err := pl.Registry.GetSite(ctx, p.Data.SiteName)
	if err != nil {
		return fmt.Errorf("pipeline.Pipeline: %w", err)
	}
	st.site = site

	// A requester that is not an owner or user indicates a stale or duplicate
	// signal. Drop without a status report.
	if !site.CanBuild(p.Data.UserID) {
		slog.Info("dropping job from non-member", "site", site.Name, "user", p.Data.UserID)
		return nil
	}

	st.buckets, err = pl.targetBuckets(ctx, st)
	if err != nil {
		return fmt.Errorf("pipeline.Pipeline: %w", err)
	}
	if len(st.buckets) == 0 {
		slog.Info("no deploys for branch", "site", site.Name, "branch", p.Data.Branch)
		return nil
	}

	st.folder = filepath.Join(pl.Config.WorkDir, st.identifier)

	pl.report(ctx, st, fmt.Sprintf("Build started for %s", branchLabel(st)), 0, "build")

	err = pl.run(ctx, st)
	if err != nil {
		pl.report(ctx, st, buildFailureMessage(err), 1, "build")
		return fmt.Errorf("pipeline.Pipeline: %w", err)
	}

	pl.report(ctx, st, fmt.Sprintf("Build complete for %s", branchLabel(st)), 0, "build")
	return nil
}

func (pl *Pipeline) run(ctx context.Context, st *state) error {
	stages := []func(context.Context, *state) error{
		pl.requeueDelayed,
		pl.syncSource,
		pl.installDependencies,
		pl.provisionBuckets,
		pl.cleanOutput,
		pl.snapshotData,
		pl.resolveBuildOrder,
		pl.runBuilds,
		pl.synthesizeSitemaps,
		pl.synthesizeRobots,
		pl.uploadIfDifferent,
		pl.deleteNotInBuild,
		pl.reportDeployed,
	}
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

// requeueDelayed re-enqueues a scheduled build at its build time and then
// lets the current run continue. Building once now and once at the scheduled
// time is intentional: preview now, publish later. The delayed copy carries
// noDelay so the recursion terminates.
func (pl *Pipeline) requeueDelayed(ctx context.Context, st *state) error {
	if st.payload.NoDelay || st.payload.BuildTime == 0 {
		return nil
	}
	delay := st.payload.BuildAt().Sub(pl.now())
	if delay <= 0 {
		return nil
	}

	delayed := *st.payload
	delayed.NoDelay = true
	body, err := job.Encode(&job.Payload{Identifier: st.identifier, Data: delayed})
	if err != nil {
		return err
	}
	err = pl.Queue.Put(ctx, pl.tube(), &queue.PutParams{Delay: delay, Body: body})
	if err != nil {
		return err
	}

	slog.Info("scheduled delayed build", "identifier", st.identifier, "delay", delay)
	return nil
}

// provisionBuckets idempotently creates and configures every destination
// bucket in parallel. A single failure aborts the stage.
func (pl *Pipeline) provisionBuckets(ctx context.Context, st *state) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range st.buckets {
		g.Go(func() error {
			return pl.Store.EnsureBucket(gctx, b.Bucket, "index.html", "404.html")
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("provision buckets: %w", err)
	}
	return nil
}

// targetBuckets resolves the destination buckets for the job: an explicit
// siteBucket, or every deploy configured for the job's branch.
func (pl *Pipeline) targetBuckets(ctx context.Context, st *state) ([]registry.Deploy, error) {
	deploys, err := pl.Registry.GetDeploys(ctx, st.payload.SiteName)
	if err != nil {
		return nil, err
	}

	if st.payload.SiteBucket != "" {
		for _, d := range deploys {
			if d.Bucket == st.payload.SiteBucket {
				return []registry.Deploy{d}, nil
			}
		}
		// An unregistered bucket is still a valid ad hoc target.
		return []registry.Deploy{{Branch: st.payload.Branch, Bucket: st.payload.SiteBucket}}, nil
	}

	var targets []registry.Deploy
	for _, d := range deploys {
		if st.payload.Branch == "" || d.Branch == st.payload.Branch {
			targets = append(targets, d)
		}
	}
	return targets, nil
}

func (pl *Pipeline) report(ctx context.Context, st *state, message string, code int, tag string) {
	err := pl.Registry.ReportStatus(ctx, st.payload.SiteName, message, code, tag)
	if err != nil {
		slog.Error("didn't report status", "site", st.payload.SiteName, "err", err)
	}
}

// reportDeployed records one status message per destination after its upload
// and delete fan-outs completed.
func (pl *Pipeline) reportDeployed(ctx context.Context, st *state) error {
	for _, b := range st.buckets {
		pl.report(ctx, st, fmt.Sprintf("Deployed %s to %s", branchLabel(st), b.Domain()), 0, "deploy")
	}
	return nil
}

func (pl *Pipeline) tube() job.Tube {
	if pl.Tube != "" {
		return pl.Tube
	}
	return job.TubeBuild
}

func (pl *Pipeline) now() time.Time {
	if pl.Now != nil {
		return pl.Now()
	}
	return time.Now()
}

func branchLabel(st *state) string {
	if st.payload.Branch != "" {
		return st.payload.Branch
	}
	return st.payload.SiteName
}

// buildFailureMessage maps a stage error to the CMS-facing status message.
func buildFailureMessage(err error) string {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Message
	}
	return "Build failed. Please check your site configuration and try again."
}

// StageError carries a CMS-facing status message alongside the cause.
type StageError struct {
	Message string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
