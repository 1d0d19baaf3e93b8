package worker

import (
	"context"
	"errors"

	"github.com/v0gel/mason/internal/job"
	"github.com/v0gel/mason/internal/queue"
)

var _ queue.Queue = (*StubQueue)(nil)

type StubQueuePut struct {
	Tube   job.Tube
	Params *queue.PutParams
}

type StubQueue struct {
	ReserveMessages []*queue.Message
	DeleteCalls     []*queue.Message
	PutCalls        []StubQueuePut
}

func (q *StubQueue) Reserve(ctx context.Context) (*queue.Message, error) {
	if len(q.ReserveMessages) == 0 {
		return nil, errors.New("no messages")
	}
	m := q.ReserveMessages[0]
	q.ReserveMessages = q.ReserveMessages[1:]
	return m, nil
}

func (q *StubQueue) Delete(ctx context.Context, m *queue.Message) error {
	q.DeleteCalls = append(q.DeleteCalls, m)
	return nil
}

func (q *StubQueue) Put(ctx context.Context, tube job.Tube, params *queue.PutParams) error {
	q.PutCalls = append(q.PutCalls, StubQueuePut{Tube: tube, Params: params})
	return nil
}
