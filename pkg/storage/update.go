package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNoChange may be returned by an UpdateFunc to skip the write.
var ErrNoChange = errors.New("storage: no change")

// ErrClosed is returned for writes submitted after a WriteQueue is closed.
var ErrClosed = errors.New("storage: write queue closed")

// Update runs fn against the current rows of c and persists the result.
// Stores implementing Updater provide their own isolation. For any other
// store this is a plain read, transform, replace cycle with no locking, so
// two concurrent calls can overwrite each other (lost update).
func Update(ctx context.Context, s RecordStore, c Collection, fn UpdateFunc) error {
	if u, ok := s.(Updater); ok {
		return u.Update(ctx, c, fn)
	}
	return updateUnlocked(ctx, s, c, fn)
}

func updateUnlocked(ctx context.Context, s RecordStore, c Collection, fn UpdateFunc) error {
	rows, err := s.ReadAll(ctx, c)
	if err != nil {
		return err
	}
	next, err := fn(rows)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.ReplaceAll(ctx, c, next)
}

// WriteQueue serializes every write to a collection through one owner
// goroutine per collection. Reads go straight to the wrapped store.
type WriteQueue struct {
	store  RecordStore
	queues map[Collection]chan writeOp

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type writeOp struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// NewWriteQueue starts the owner goroutines. depth bounds how many writes
// may wait per collection before submitters block.
func NewWriteQueue(store RecordStore, depth int) *WriteQueue {
	if depth <= 0 {
		depth = 64
	}
	q := &WriteQueue{
		store:  store,
		queues: make(map[Collection]chan writeOp, len(AllCollections)),
	}
	for _, c := range AllCollections {
		ch := make(chan writeOp, depth)
		q.queues[c] = ch
		q.wg.Add(1)
		go q.owner(ch)
	}
	return q
}

func (q *WriteQueue) owner(ch <-chan writeOp) {
	defer q.wg.Done()
	for op := range ch {
		op.done <- op.run(op.ctx)
	}
}

func (q *WriteQueue) submit(ctx context.Context, c Collection, run func(ctx context.Context) error) error {
	ch, ok := q.queues[c]
	if !ok {
		return wrapErr("write", c, errors.New("unknown collection"))
	}
	op := writeOp{ctx: ctx, run: run, done: make(chan error, 1)}

	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrClosed
	}
	select {
	case ch <- op:
	case <-ctx.Done():
		q.mu.RUnlock()
		return ctx.Err()
	}
	q.mu.RUnlock()

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *WriteQueue) ReadAll(ctx context.Context, c Collection) ([]Row, error) {
	return q.store.ReadAll(ctx, c)
}

func (q *WriteQueue) ReplaceAll(ctx context.Context, c Collection, rows []Row) error {
	return q.submit(ctx, c, func(ctx context.Context) error {
		return q.store.ReplaceAll(ctx, c, rows)
	})
}

func (q *WriteQueue) Append(ctx context.Context, c Collection, row Row) error {
	return q.submit(ctx, c, func(ctx context.Context) error {
		return q.store.Append(ctx, c, row)
	})
}

// Update runs the whole read-modify-write cycle on the collection owner, so
// no other write to c from this process can interleave with it. A wrapped
// Updater still applies its own isolation.
func (q *WriteQueue) Update(ctx context.Context, c Collection, fn UpdateFunc) error {
	return q.submit(ctx, c, func(ctx context.Context) error {
		return Update(ctx, q.store, c, fn)
	})
}

func (q *WriteQueue) Init(ctx context.Context) error {
	if i, ok := q.store.(Initializer); ok {
		return i.Init(ctx)
	}
	return nil
}

// Close stops accepting writes, finishes the queued ones and waits for the
// owners to exit.
func (q *WriteQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.queues {
		close(ch)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
