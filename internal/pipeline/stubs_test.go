package pipeline

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/queue"
	"github.com/v0gel/mason/internal/registry"
	"github.com/v0gel/mason/internal/storage"
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

var _ registry.Registry = (*StubRegistry)(nil)

type StubRegistryReport struct {
	Message string
	Code    int
	Tag     string
}

type StubRegistry struct {
	SiteResult    *registry.Site
	DeploysResult []registry.Deploy

	Reports []StubRegistryReport
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
	r.Reports = append(r.Reports, StubRegistryReport{Message: message, Code: code, Tag: tag})
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

var _ storage.Store = (*SpyStore)(nil)

type SpyStorePut struct {
	Bucket string
	Key    string
	Body   []byte
	Meta   *storage.ObjectMeta
}

// SpyStore is safe for the pipeline's bounded fan-outs.
type SpyStore struct {
	ListResult map[string][]storage.Object // bucket -> objects
	HeadResult map[string]string           // bucket/key -> md5

	mu          sync.Mutex
	PutCalls    []SpyStorePut
	DeleteCalls []string // bucket/key
}

func (s *SpyStore) List(ctx context.Context, bucket, prefix string) ([]storage.Object, error) {
	return s.ListResult[bucket], nil
}

func (s *SpyStore) Get(ctx context.Context, bucket, key string, w io.Writer) error {
	return storage.ErrNotFound
}

func (s *SpyStore) Put(ctx context.Context, bucket, key string, body io.Reader, meta *storage.ObjectMeta) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCalls = append(s.PutCalls, SpyStorePut{Bucket: bucket, Key: key, Body: b, Meta: meta})
	return nil
}

func (s *SpyStore) Delete(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls = append(s.DeleteCalls, bucket+"/"+key)
	return nil
}

func (s *SpyStore) Head(ctx context.Context, bucket, key string) (string, error) {
	md5, ok := s.HeadResult[bucket+"/"+key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return md5, nil
}

func (s *SpyStore) EnsureBucket(ctx context.Context, bucket, indexDocument, errorDocument string) error {
	return nil
}

type SpyPurger struct {
	mu    sync.Mutex
	Calls []string // domain + path
}

func (p *SpyPurger) Purge(ctx context.Context, domain, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, domain+path)
	return nil
}

// fixedTime is the deterministic clock used by the scheduling tests.
var fixedTime = time.Date(2023, 11, 14, 22, 0, 0, 0, time.UTC)
