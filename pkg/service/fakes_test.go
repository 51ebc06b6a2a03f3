package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"link-tracker/pkg/security"
	"link-tracker/pkg/storage"

	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// countingStore counts every write that reaches the wrapped store.
type countingStore struct {
	*storage.MemoryStore
	writes atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: storage.NewMemoryStore()}
}

func (s *countingStore) ReplaceAll(ctx context.Context, c storage.Collection, rows []storage.Row) error {
	s.writes.Add(1)
	return s.MemoryStore.ReplaceAll(ctx, c, rows)
}

func (s *countingStore) Append(ctx context.Context, c storage.Collection, row storage.Row) error {
	s.writes.Add(1)
	return s.MemoryStore.Append(ctx, c, row)
}

// failingStore fails the configured operations with errDiskFull.
type failingStore struct {
	*storage.MemoryStore
	mu          sync.Mutex
	failAppend  map[storage.Collection]bool
	failReplace map[storage.Collection]int // remaining failures, -1 forever
	failRead    map[storage.Collection]bool
}

func newFailingStore() *failingStore {
	return &failingStore{
		MemoryStore: storage.NewMemoryStore(),
		failAppend:  map[storage.Collection]bool{},
		failReplace: map[storage.Collection]int{},
		failRead:    map[storage.Collection]bool{},
	}
}

func (s *failingStore) ReadAll(ctx context.Context, c storage.Collection) ([]storage.Row, error) {
	s.mu.Lock()
	fail := s.failRead[c]
	s.mu.Unlock()
	if fail {
		return nil, &storage.Error{Op: "read", Collection: c, Err: errDiskFull}
	}
	return s.MemoryStore.ReadAll(ctx, c)
}

func (s *failingStore) Append(ctx context.Context, c storage.Collection, row storage.Row) error {
	s.mu.Lock()
	fail := s.failAppend[c]
	s.mu.Unlock()
	if fail {
		return &storage.Error{Op: "append", Collection: c, Err: errDiskFull}
	}
	return s.MemoryStore.Append(ctx, c, row)
}

func (s *failingStore) ReplaceAll(ctx context.Context, c storage.Collection, rows []storage.Row) error {
	s.mu.Lock()
	n := s.failReplace[c]
	if n > 0 {
		s.failReplace[c] = n - 1
	}
	s.mu.Unlock()
	if n != 0 {
		return &storage.Error{Op: "replace", Collection: c, Err: errDiskFull}
	}
	return s.MemoryStore.ReplaceAll(ctx, c, rows)
}

// barrierStore holds the first two link reads until both have happened,
// forcing two read-modify-write cycles to see the same snapshot.
type barrierStore struct {
	*storage.MemoryStore
	arrived atomic.Int32
	both    sync.WaitGroup
}

func newBarrierStore() *barrierStore {
	s := &barrierStore{MemoryStore: storage.NewMemoryStore()}
	s.both.Add(2)
	return s
}

func (s *barrierStore) ReadAll(ctx context.Context, c storage.Collection) ([]storage.Row, error) {
	rows, err := s.MemoryStore.ReadAll(ctx, c)
	if c == storage.Links && s.arrived.Add(1) <= 2 {
		s.both.Done()
		s.both.Wait()
	}
	return rows, err
}

func seedLinks(t *testing.T, s storage.RecordStore, links ...storage.LinkRecord) {
	t.Helper()
	rows := make([]storage.Row, 0, len(links))
	for _, l := range links {
		rows = append(rows, l.ToRow())
	}
	require.NoError(t, s.ReplaceAll(context.Background(), storage.Links, rows))
}

func seedCampaigns(t *testing.T, s storage.RecordStore, campaigns ...storage.CampaignRecord) {
	t.Helper()
	rows := make([]storage.Row, 0, len(campaigns))
	for _, c := range campaigns {
		rows = append(rows, c.ToRow())
	}
	require.NoError(t, s.ReplaceAll(context.Background(), storage.Campaigns, rows))
}

func seedClicks(t *testing.T, s storage.RecordStore, clicks ...storage.ClickEvent) {
	t.Helper()
	for _, c := range clicks {
		require.NoError(t, s.Append(context.Background(), storage.Clicks, c.ToRow()))
	}
}

func testCodec(t *testing.T) *security.CloakCodec {
	t.Helper()
	codec, err := security.NewCloakCodec("test-secret")
	require.NoError(t, err)
	return codec
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func saleLink() storage.LinkRecord {
	return storage.LinkRecord{
		ID:          "link-1",
		CampaignID:  "camp-1",
		OriginalURL: "https://example.com/sale",
		ShortCode:   "a1b2c3d4",
		Active:      true,
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func springCampaign() storage.CampaignRecord {
	return storage.CampaignRecord{
		ID:         "camp-1",
		Name:       "Spring sale",
		TotalLinks: 1,
		Active:     true,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// appendHookStore calls afterAppend once a click row has been stored.
type appendHookStore struct {
	*storage.MemoryStore
	afterAppend func()
}

func (s *appendHookStore) Append(ctx context.Context, c storage.Collection, row storage.Row) error {
	if err := s.MemoryStore.Append(ctx, c, row); err != nil {
		return err
	}
	if c == storage.Clicks && s.afterAppend != nil {
		s.afterAppend()
	}
	return nil
}
