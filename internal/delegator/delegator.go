package delegator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/lock"
	"github.com/v0gel/mason/internal/queue"
	"github.com/v0gel/mason/internal/registry"
)

// Command is one record of the command inbox.
type Command struct {
	ID          uuid.UUID
	Kind        string
	SiteName    string
	UserID      uuid.UUID
	Branch      string
	ContentType string
	ItemKey     string
	// BuildAt schedules the build; zero means immediate.
	BuildAt   time.Time
	CreatedAt time.Time
}

// Inbox is the change feed of command records. Next removes the returned
// record from the inbox before handing it over: reads are at most once, the
// dedup lock and the queue carry it from there.
type Inbox interface {
	Next(ctx context.Context) (*Command, error)
}

// Delegator bridges the command inbox into the durable queue. Each command is
// deduplicated with a short-TTL lock on its job identifier and forwarded to
// the tube matching its kind; build commands without a branch fan out one job
// per configured deploy branch.
type Delegator struct {
	Inbox    Inbox             // required
	Queue    queue.Queue       // required
	Locks    lock.Locker       // required
	Registry registry.Registry // required
	Metrics  *Metrics          // optional

	wg sync.WaitGroup
}

// Metrics are the delegator's prometheus collectors.
type Metrics struct {
	CommandsTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mason_commands_total",
			Help: "Commands observed, by kind and result.",
		}, []string{"kind", "result"}),
	}
	reg.MustRegister(m.CommandsTotal)
	return m
}

// Run watches the inbox until ctx is canceled, then waits for in-flight
// fan-outs to finish.
func (d *Delegator) Run(ctx context.Context) error {
	defer d.wg.Wait()

	for {
		cmd, err := d.Inbox.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("delegator.Delegator: %w", err)
		}

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handle(context.WithoutCancel(ctx), cmd)
		}()
	}
}

func (d *Delegator) handle(ctx context.Context, cmd *Command) {
	tube, known := job.TubeFromString(cmd.Kind)
	if !known {
		slog.Error("dropping command of unknown kind", "kind", cmd.Kind, "site", cmd.SiteName)
		d.count(cmd.Kind, "invalid")
		return
	}

	payloads, err := d.expand(ctx, tube, cmd)
	if err != nil {
		slog.Error("didn't expand command", "kind", cmd.Kind, "site", cmd.SiteName, "err", err)
		d.count(cmd.Kind, "error")
		return
	}

	for _, p := range payloads {
		d.enqueue(ctx, tube, p)
	}
}

// expand derives the job payloads for one command. A build command without a
// branch becomes one job per configured deploy branch.
func (d *Delegator) expand(ctx context.Context, tube job.Tube, cmd *Command) ([]*job.Payload, error) {
	data := job.Data{
		UserID:      cmd.UserID,
		SiteName:    cmd.SiteName,
		Branch:      cmd.Branch,
		ContentType: cmd.ContentType,
		ItemKey:     cmd.ItemKey,
	}
	if !cmd.BuildAt.IsZero() {
		data.BuildTime = cmd.BuildAt.Unix()
	}

	switch tube {
	case job.TubeBuild:
		if cmd.Branch != "" {
			return []*job.Payload{{Identifier: job.BuildIdentifier(cmd.SiteName, cmd.Branch), Data: data}}, nil
		}
		deploys, err := d.Registry.GetDeploys(ctx, cmd.SiteName)
		if err != nil {
			return nil, err
		}
		payloads := make([]*job.Payload, 0, len(deploys))
		for _, deploy := range deploys {
			branchData := data
			branchData.Branch = deploy.Branch
			payloads = append(payloads, &job.Payload{
				Identifier: job.BuildIdentifier(cmd.SiteName, deploy.Branch),
				Data:       branchData,
			})
		}
		return payloads, nil
	case job.TubePreviewBuild:
		return []*job.Payload{{
			Identifier: job.PreviewIdentifier(cmd.SiteName, cmd.ContentType, cmd.ItemKey),
			Data:       data,
		}}, nil
	default:
		return []*job.Payload{{Identifier: cmd.SiteName, Data: data}}, nil
	}
}

// enqueue puts one payload onto its tube behind the dedup lock. The lock is
// released after the attempt regardless of outcome; its TTL only has to
// cover the window where duplicate signals arrive back to back.
func (d *Delegator) enqueue(ctx context.Context, tube job.Tube, p *job.Payload) {
	key := lock.QueuedKey(string(tube), p.Identifier)
	err := d.Locks.Acquire(ctx, key, lock.DedupTTL)
	if err != nil {
		if errors.Is(err, lock.ErrAlreadyLocked) {
			slog.Info("dropping duplicate command", "tube", tube, "identifier", p.Identifier)
			d.count(string(tube), "duplicate")
			return
		}
		slog.Error("didn't acquire dedup lock", "key", key, "err", err)
		d.count(string(tube), "error")
		return
	}
	defer func() {
		if releaseErr := d.Locks.Release(ctx, key); releaseErr != nil {
			slog.Error("didn't release dedup lock", "key", key, "err", releaseErr)
		}
	}()

	body, err := job.Encode(p)
	if err != nil {
		slog.Error("didn't encode payload", "identifier", p.Identifier, "err", err)
		d.count(string(tube), "error")
		return
	}
	err = d.Queue.Put(ctx, tube, &queue.PutParams{Body: body})
	if err != nil {
		slog.Error("didn't enqueue job", "tube", tube, "identifier", p.Identifier, "err", err)
		d.count(string(tube), "error")
		return
	}

	slog.Info("enqueued job", "tube", tube, "identifier", p.Identifier)
	d.count(string(tube), "ok")
}

func (d *Delegator) count(kind, result string) {
	if d.Metrics != nil {
		d.Metrics.CommandsTotal.WithLabelValues(kind, result).Inc()
	}
}
