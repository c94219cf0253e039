package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/R005ter/fwp"
	"github.com/R005ter/fwp/database"
	"github.com/R005ter/fwp/internal/blob"
	"github.com/R005ter/fwp/internal/credential"
	"github.com/R005ter/fwp/internal/egress"
	"github.com/R005ter/fwp/internal/pubsub"
	"github.com/R005ter/fwp/internal/registry"
	"github.com/R005ter/fwp/internal/runner"
)

// Config wires the orchestrator's collaborators. Registry, Credentials,
// Runner, Jobs and Media are required; Remote and Routes are optional.
type Config struct {
	Providers   *fwp.ProviderRegistry
	Registry    *registry.Registry
	Credentials *credential.Store
	Runner      *runner.Runner
	Jobs        *Registry
	// Media is the local directory acquisitions land in.
	Media *blob.LocalStore
	// Remote is the object store finished artifacts are copied to.
	Remote blob.Store
	// Routes are the proxy egress routes tried after the direct route.
	Routes []egress.RouteDescriptor
}

// Orchestrator turns tenant acquisition requests into either immediate
// dedup hits or background jobs working a strategy ladder.
type Orchestrator struct {
	cfg Config
	// ctx bounds job workers to the process lifetime; shutdown abandons
	// in-flight subprocesses, callers re-request lost jobs.
	ctx    context.Context
	events *pubsub.Publisher[Event]
	log    *zap.SugaredLogger
}

func NewOrchestrator(ctx context.Context, cfg Config) *Orchestrator {
	if cfg.Providers == nil {
		cfg.Providers = &fwp.DefaultProviderRegistry
	}
	return &Orchestrator{
		cfg:    cfg,
		ctx:    ctx,
		events: pubsub.NewPublisher[Event](),
		log:    zap.S().Named("jobs"),
	}
}

// Subscribe registers an observer for job lifecycle events.
func (o *Orchestrator) Subscribe() (pubsub.Subscriber[Event], error) {
	return o.events.Subscribe()
}

// Close shuts down event delivery. Running jobs are abandoned with the
// process; there is no flush-and-wait.
func (o *Orchestrator) Close() {
	o.events.Close()
}

// AcquireResult is the synchronous answer to an acquisition request:
// either the asset already existed (dedup hit, Asset set) or a job was
// started (Job set).
type AcquireResult struct {
	Deduped bool
	Asset   *database.Asset
	Job     *Job
}

// Acquire handles one tenant request for a source. Invalid sources are
// rejected synchronously with a FailureInvalidSource error and no job.
// A registered source whose bytes are verifiably present short-circuits
// to a library attach. Everything else becomes a fire-and-forget job.
func (o *Orchestrator) Acquire(ctx context.Context, tenantID database.RowID, rawURL string) (*AcquireResult, error) {
	match, err := o.cfg.Providers.Match(rawURL)
	if err != nil {
		return nil, err
	}
	source := match.Source
	identity := source.URL()

	if asset, err := o.cfg.Registry.FindBySource(identity); err != nil {
		return nil, err
	} else if asset != nil && o.cfg.Registry.BytesPresent(ctx, asset.StorageKey) {
		if err := o.cfg.Registry.Attach(tenantID, asset.ID, assetMetadata(asset.Title, identity)); err != nil {
			return nil, err
		}
		o.log.Infow("dedup hit", "tenant_id", tenantID, "source", identity, "storage_key", asset.StorageKey)
		return &AcquireResult{Deduped: true, Asset: asset}, nil
	}

	job := newJob(tenantID, identity)
	o.cfg.Jobs.Add(job)
	o.log.Infow("job created", "job_id", job.ID, "tenant_id", tenantID, "source", identity)
	go o.run(job, source)
	return &AcquireResult{Job: job}, nil
}

// run is the job worker: the only writer of the job's state.
func (o *Orchestrator) run(job *Job, source fwp.Source) {
	ctx := o.ctx
	log := o.log.With("job_id", job.ID)

	job.setStatus(StatusRunning)
	o.events.Send(JobStarted{jobEvent{job}})

	job.setTitle(o.probeTitle(ctx, source))

	storageKey := uuid.NewString()[:8] + ".mp4"
	outputPath := o.cfg.Media.Path(storageKey)

	jar, err := o.cfg.Credentials.Get(job.TenantID)
	if err != nil {
		log.Warnw("credential lookup failed, continuing without cookies", "error", err)
		jar = nil
	}

	ladder := egress.BuildLadder(o.cfg.Routes, len(jar) > 0)
	log.Infow("ladder built", "rungs", len(ladder), "with_credential", len(jar) > 0)

	err = o.workLadder(ctx, job, source.URL(), ladder, jar, outputPath)
	if err != nil {
		log.Warnw("job failed", "error", err)
		o.fail(job, err)
		return
	}
	o.finish(ctx, job, source.URL(), storageKey, outputPath)
}

// workLadder attempts rungs in order until one succeeds. Returns nil on
// success, the decisive error otherwise.
func (o *Orchestrator) workLadder(ctx context.Context, job *Job, sourceURL string, ladder []egress.Attempt, jar []byte, outputPath string) error {
	log := o.log.With("job_id", job.ID)
	var lastErr error
	var toolRetried, artifactRetried bool

	for i := 0; i < len(ladder); i++ {
		attempt := ladder[i]
		job.setAttempt(i)
		log.Infow("attempting rung", "rung", i, "strategy", attempt.String())

		err := o.cfg.Runner.Run(ctx, sourceURL, attempt, runner.RunOptions{
			OutputPath: outputPath,
			CookieJar:  jar,
			OnProgress: func(percent float64) {
				job.setProgress(percent)
				o.events.Send(JobProgress{jobEvent{job}, percent})
			},
		})
		if err == nil {
			return nil
		}

		class := fwp.ClassOf(err)
		switch class {
		case fwp.FailureToolUnavailable:
			// The tool crashing before output is retried once per job,
			// then fatal; a broken install will not fix itself mid-ladder.
			if !toolRetried {
				toolRetried = true
				log.Warnw("tool unavailable, retrying rung once", "rung", i)
				i--
				continue
			}
			return err
		case fwp.FailureArtifactMissing:
			// Exit code said success, filesystem disagrees. Re-check the
			// same rung once; the second miss is a distinct fatal error.
			if !artifactRetried {
				artifactRetried = true
				log.Warnw("artifact missing after reported success, re-checking rung", "rung", i)
				i--
				continue
			}
			return err
		}
		if !class.Retryable() {
			return err
		}

		lastErr = err
		var ae *fwp.AcquireError
		if errors.As(err, &ae) && runner.IdentityBlocked(ae.Output) {
			// The block implicates the client identity, not the route:
			// rewrite the remaining ladder to retry this route under the
			// alternate identities before moving on.
			rest := egress.Reorder(ladder[i+1:], attempt)
			copy(ladder[i+1:], rest)
			log.Infow("identity-blocked signature, reordered remaining ladder", "rung", i)
		}
		log.Warnw("rung failed", "rung", i, "class", class.String())
	}

	if lastErr == nil {
		lastErr = fwp.NewAcquireError(fwp.FailureUpstreamBlocked, "strategy ladder exhausted")
	}
	return fmt.Errorf("strategy ladder exhausted: %w", lastErr)
}

// finish registers the artifact and attaches it to the tenant library.
// From the tenant's point of view the two must both succeed before the
// job reports complete; acquired bytes are never rolled back on attach
// failure, they stay registered for reuse.
func (o *Orchestrator) finish(ctx context.Context, job *Job, sourceIdentity, storageKey, outputPath string) {
	log := o.log.With("job_id", job.ID)

	var byteSize int64
	if info, err := os.Stat(outputPath); err == nil {
		byteSize = info.Size()
	}

	if o.cfg.Remote != nil {
		if err := o.cfg.Remote.Put(ctx, storageKey, outputPath); err != nil {
			// Acquisition still succeeded; recorded as a warning, the
			// local copy serves until the next successful upload.
			log.Warnw("blob upload failed", "storage_key", storageKey, "error", err)
			job.setWarning(fwp.NewAcquireError(fwp.FailureStorage, "blob upload failed").Error())
		}
	}

	title := job.Snapshot().Title
	asset, err := o.cfg.Registry.Register(storageKey, sourceIdentity, title, byteSize)
	if err != nil {
		// Bytes stay on disk, orphaned until the next sweep; the
		// original never rolls back here and neither do we.
		o.fail(job, fmt.Errorf("failed to register asset: %w", err))
		return
	}
	if err := o.cfg.Registry.Attach(job.TenantID, asset.ID, assetMetadata(title, sourceIdentity)); err != nil {
		o.fail(job, fmt.Errorf("failed to attach asset to library: %w", err))
		return
	}

	log.Infow("job complete", "storage_key", asset.StorageKey, "bytes", byteSize)
	job.complete(asset.StorageKey)
	o.events.Send(JobCompleted{jobEvent{job}, asset.StorageKey})
}

func (o *Orchestrator) fail(job *Job, err error) {
	job.fail(err)
	o.events.Send(JobFailed{jobEvent{job}, err})
}

// probeTitle resolves a display title: the tool's metadata probe first,
// the provider's own recon as fallback. Absence is not fatal.
func (o *Orchestrator) probeTitle(ctx context.Context, source fwp.Source) string {
	if title, err := o.cfg.Runner.Probe(ctx, source.URL()); err == nil && title != "" {
		return title
	}
	if info, err := source.Recon(ctx); err == nil && info.Title != "" {
		return info.Title
	}
	return "Unknown"
}

func assetMetadata(title, sourceIdentity string) map[string]any {
	return map[string]any{
		"title": title,
		"url":   sourceIdentity,
	}
}
