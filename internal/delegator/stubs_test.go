package delegator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/lock"
	"github.com/v0gel/mason/internal/queue"
	"github.com/v0gel/mason/internal/registry"
)

var _ queue.Queue = (*StubQueue)(nil)

type StubQueuePut struct {
	Tube   job.Tube
	Params *queue.PutParams
}

type StubQueue struct {
	PutCalls []StubQueuePut
}

func (q *StubQueue) Reserve(ctx context.Context) (*queue.Message, error) {
	panic("not implemented")
}

func (q *StubQueue) Delete(ctx context.Context, m *queue.Message) error {
	panic("not implemented")
}

func (q *StubQueue) Put(ctx context.Context, tube job.Tube, params *queue.PutParams) error {
	q.PutCalls = append(q.PutCalls, StubQueuePut{Tube: tube, Params: params})
	return nil
}

var _ lock.Locker = (*StubLocker)(nil)

type StubLocker struct {
	AcquireErr error

	Calls []string
	Keys  []string
}

func (l *StubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	l.Calls = append(l.Calls, "Acquire")
	l.Keys = append(l.Keys, key)
	return l.AcquireErr
}

func (l *StubLocker) Release(ctx context.Context, key string) error {
	l.Calls = append(l.Calls, "Release")
	l.Keys = append(l.Keys, key)
	return nil
}

var _ registry.Registry = (*StubRegistry)(nil)

type StubRegistry struct {
	SiteResult    *registry.Site
	DeploysResult []registry.Deploy
}

func (r *StubRegistry) GetSite(ctx context.Context, name string) (*registry.Site, error) {
	if r.SiteResult == nil {
		return nil, registry.ErrNotFound
	}
	return r.SiteResult, nil
}

func (r *StubRegistry) GetDeploys(ctx context.Context, name string) ([]registry.Deploy, error) {
	return r.DeploysResult, nil
}

func (r *StubRegistry) ReportStatus(ctx context.Context, name, message string, code int, tag string) error {
	return nil
}

func (r *StubRegistry) GetMessages(ctx context.Context, name string) ([]registry.Message, error) {
	return nil, nil
}

func (r *StubRegistry) SignalBuild(ctx context.Context, name string, userID uuid.UUID, branch string, buildAt time.Time) error {
	return nil
}

func (r *StubRegistry) SignalPreview(ctx context.Context, name string, userID uuid.UUID, contentType, itemKey string) error {
	return nil
}
