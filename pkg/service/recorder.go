package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RequestMeta is what the recorder needs to know about the inbound request.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
	Referrer  string
	ArrivedAt time.Time
}

type RecorderConfig struct {
	Workers      int
	QueueSize    int
	Retries      int
	RetryBackoff time.Duration
	// Timeout bounds one queued accounting job.
	Timeout time.Duration
	// Gate, when set, is shared with Reconcile so counters are never
	// rebuilt between a click append and its counter updates.
	Gate *AccountingGate
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 25 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

type RecorderStats struct {
	Recorded int64 `json:"recorded"`
	Failed   int64 `json:"failed"`
	Dropped  int64 `json:"dropped"`
	Queued   int   `json:"queued"`
}

type clickJob struct {
	ctx  context.Context
	link storage.LinkRecord
	meta RequestMeta
}

// ClickRecorder appends click events and bumps the link and campaign
// counters. Queued jobs run on a fixed worker pool so the redirect never
// waits on accounting.
type ClickRecorder struct {
	store  storage.RecordStore
	logger *logging.Logger
	cfg    RecorderConfig

	jobs   chan clickJob
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	appendMu sync.Mutex
	lastTS   time.Time

	recorded atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64

	newID func() string
	now   func() time.Time
}

func NewClickRecorder(store storage.RecordStore, logger *logging.Logger, cfg RecorderConfig) *ClickRecorder {
	cfg = cfg.withDefaults()
	r := &ClickRecorder{
		store:  store,
		logger: logger,
		cfg:    cfg,
		jobs:   make(chan clickJob, cfg.QueueSize),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *ClickRecorder) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		ctx, cancel := context.WithTimeout(job.ctx, r.cfg.Timeout)
		_, _ = r.Record(ctx, job.link, job.meta)
		cancel()
	}
}

// Enqueue hands a click to the worker pool without blocking. It reports
// false when the queue is full or the recorder is closed; the click is then
// dropped and counted.
func (r *ClickRecorder) Enqueue(ctx context.Context, link storage.LinkRecord, meta RequestMeta) bool {
	// Keep the correlation id but not the request's cancellation.
	job := clickJob{ctx: context.WithoutCancel(ctx), link: link, meta: meta}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		r.logger.Warn(ctx, "click dropped, recorder closed", "link_id", link.ID)
		return false
	}
	select {
	case r.jobs <- job:
		return true
	default:
		r.dropped.Add(1)
		r.logger.Warn(ctx, "click dropped, recorder queue full", "link_id", link.ID)
		return false
	}
}

// Record runs one unit of accounting synchronously. The event append comes
// first and its failure aborts the rest. The link and campaign counters are
// then updated independently of each other, each with its own retries, so
// either may land without the other. Errors are logged here as well as
// returned.
func (r *ClickRecorder) Record(ctx context.Context, link storage.LinkRecord, meta RequestMeta) (*storage.ClickEvent, error) {
	var event *storage.ClickEvent
	err := r.cfg.Gate.Track(func() error {
		var err error
		event, err = r.record(ctx, link, meta)
		return err
	})
	return event, err
}

func (r *ClickRecorder) record(ctx context.Context, link storage.LinkRecord, meta RequestMeta) (*storage.ClickEvent, error) {
	event, err := r.appendEvent(ctx, link, meta)
	if err != nil {
		r.failed.Add(1)
		aerr := &AccountingError{Step: "append", LinkID: link.ID, Err: err}
		r.logger.LogClickAccounting(ctx, "append", link.ID, meta.ClientIP, aerr)
		return nil, aerr
	}
	r.logger.LogClickAccounting(ctx, "append", link.ID, meta.ClientIP, nil)

	var g errgroup.Group
	g.Go(func() error {
		err := r.withRetry(ctx, func() error { return r.incrementLink(ctx, link.ID) })
		return r.report(ctx, "link_counter", link.ID, meta.ClientIP, err)
	})
	if link.CampaignID != "" {
		g.Go(func() error {
			err := r.withRetry(ctx, func() error { return r.incrementCampaign(ctx, link.CampaignID) })
			return r.report(ctx, "campaign_counter", link.ID, meta.ClientIP, err)
		})
	}
	if err := g.Wait(); err != nil {
		r.failed.Add(1)
		return event, err
	}
	r.recorded.Add(1)
	return event, nil
}

func (r *ClickRecorder) report(ctx context.Context, step, linkID, clientIP string, err error) error {
	if err != nil {
		err = &AccountingError{Step: step, LinkID: linkID, Err: err}
	}
	r.logger.LogClickAccounting(ctx, step, linkID, clientIP, err)
	return err
}

// appendEvent is the single append path. Timestamps are clamped so they
// never go backwards in append order.
func (r *ClickRecorder) appendEvent(ctx context.Context, link storage.LinkRecord, meta RequestMeta) (*storage.ClickEvent, error) {
	ts := meta.ArrivedAt
	if ts.IsZero() {
		ts = r.now()
	}
	event := storage.ClickEvent{
		ID:         r.newID(),
		LinkID:     link.ID,
		CampaignID: link.CampaignID,
		IPAddress:  meta.ClientIP,
		UserAgent:  meta.UserAgent,
		Country:    ClassifyCountry(meta.ClientIP),
		Referrer:   meta.Referrer,
		DeviceType: ClassifyDevice(meta.UserAgent),
		Browser:    ClassifyBrowser(meta.UserAgent),
	}

	r.appendMu.Lock()
	defer r.appendMu.Unlock()
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	event.Timestamp = ts.UTC()
	if err := r.store.Append(ctx, storage.Clicks, event.ToRow()); err != nil {
		return nil, err
	}
	r.lastTS = ts
	return &event, nil
}

func (r *ClickRecorder) incrementLink(ctx context.Context, linkID string) error {
	found := false
	err := storage.UpdateLinks(ctx, r.store, func(links []storage.LinkRecord) ([]storage.LinkRecord, error) {
		for i := range links {
			if links[i].ID == linkID {
				links[i].ClickCount++
				found = true
				return links, nil
			}
		}
		return nil, storage.ErrNoChange
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (r *ClickRecorder) incrementCampaign(ctx context.Context, campaignID string) error {
	found := false
	err := storage.UpdateCampaigns(ctx, r.store, func(campaigns []storage.CampaignRecord) ([]storage.CampaignRecord, error) {
		for i := range campaigns {
			if campaigns[i].ID == campaignID {
				campaigns[i].TotalClicks++
				found = true
				return campaigns, nil
			}
		}
		return nil, storage.ErrNoChange
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrUnknownCampaign
	}
	return nil
}

// withRetry retries storage failures with linear backoff. Missing records
// and context errors are final.
func (r *ClickRecorder) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		err = op()
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownCampaign) {
			return err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if attempt == r.cfg.Retries {
			break
		}
		select {
		case <-time.After(r.cfg.RetryBackoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *ClickRecorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Failed:   r.failed.Load(),
		Dropped:  r.dropped.Load(),
		Queued:   len(r.jobs),
	}
}

// Close stops accepting clicks and waits for queued ones to finish.
func (r *ClickRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
