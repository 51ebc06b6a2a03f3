package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"link-tracker/pkg/logging"
	"link-tracker/pkg/storage"
)

type AnalyticsService struct {
	store  storage.RecordStore
	logger *logging.Logger
	gate   *AccountingGate
	now    func() time.Time
}

func NewAnalyticsService(store storage.RecordStore, logger *logging.Logger) *AnalyticsService {
	return &AnalyticsService{store: store, logger: logger, now: time.Now}
}

// WithGate makes Reconcile wait out in-flight accounting tracked on g.
func (a *AnalyticsService) WithGate(g *AccountingGate) *AnalyticsService {
	a.gate = g
	return a
}

type Stats struct {
	TotalLinks   int `json:"totalLinks"`
	TotalClicks  int `json:"totalClicks"`
	TotalDomains int `json:"totalDomains"`
	TodayClicks  int `json:"todayClicks"`
}

// Stats counts from the records themselves: total clicks is the length of
// the click log, not the sum of stored counters.
func (a *AnalyticsService) Stats(ctx context.Context) (*Stats, error) {
	links, err := a.store.ReadAll(ctx, storage.Links)
	if err != nil {
		return nil, err
	}
	clicks, err := storage.ReadClicks(ctx, a.store)
	if err != nil {
		return nil, err
	}
	domains, err := a.store.ReadAll(ctx, storage.Domains)
	if err != nil {
		return nil, err
	}

	today := a.now().UTC().Format(time.DateOnly)
	todayClicks := 0
	for _, c := range clicks {
		if !c.Timestamp.IsZero() && c.Timestamp.UTC().Format(time.DateOnly) == today {
			todayClicks++
		}
	}
	return &Stats{
		TotalLinks:   len(links),
		TotalClicks:  len(clicks),
		TotalDomains: len(domains),
		TodayClicks:  todayClicks,
	}, nil
}

var ranges = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

const DefaultRange = "7d"

// ClickFilter selects click events. Zero bounds are open.
type ClickFilter struct {
	From       time.Time
	To         time.Time
	LinkID     string
	CampaignID string
}

// RangeFilter turns a named range into a filter ending now. An empty name
// means DefaultRange.
func (a *AnalyticsService) RangeFilter(name string) (ClickFilter, error) {
	if name == "" {
		name = DefaultRange
	}
	d, ok := ranges[name]
	if !ok {
		return ClickFilter{}, fmt.Errorf("%w: unknown range %q", ErrInvalidInput, name)
	}
	now := a.now().UTC()
	return ClickFilter{From: now.Add(-d), To: now}, nil
}

func (f ClickFilter) match(c storage.ClickEvent) bool {
	if !f.From.IsZero() && c.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && c.Timestamp.After(f.To) {
		return false
	}
	if f.LinkID != "" && c.LinkID != f.LinkID {
		return false
	}
	if f.CampaignID != "" && c.CampaignID != f.CampaignID {
		return false
	}
	return true
}

// Clicks returns the matching events in log order.
func (a *AnalyticsService) Clicks(ctx context.Context, f ClickFilter) ([]storage.ClickEvent, error) {
	clicks, err := storage.ReadClicks(ctx, a.store)
	if err != nil {
		return nil, err
	}
	out := make([]storage.ClickEvent, 0, len(clicks))
	for _, c := range clicks {
		if f.match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ExportCSV writes clicks with the click log's column header.
func ExportCSV(w io.Writer, clicks []storage.ClickEvent) error {
	cols := storage.Clicks.Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return err
	}
	record := make([]string, len(cols))
	for _, c := range clicks {
		row := c.ToRow()
		for i, col := range cols {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type ReconcileResult struct {
	Links     int `json:"links"`
	Campaigns int `json:"campaigns"`
	Clicks    int `json:"clicks"`
}

// Reconcile rewrites every stored counter from the click log and the link
// collection, repairing any drift left by lost or partial updates. No click
// or link accounting tracked on the gate runs while it does.
func (a *AnalyticsService) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	var res *ReconcileResult
	err := a.gate.Quiesce(func() error {
		var err error
		res, err = a.reconcile(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info(ctx, "counters reconciled", "links", res.Links, "campaigns", res.Campaigns, "clicks", res.Clicks)
	return res, nil
}

func (a *AnalyticsService) reconcile(ctx context.Context) (*ReconcileResult, error) {
	res := &ReconcileResult{}
	totals := make(map[string]storage.CampaignRecord)

	err := storage.UpdateLinks(ctx, a.store, func(links []storage.LinkRecord) ([]storage.LinkRecord, error) {
		clicks, err := storage.ReadClicks(ctx, a.store)
		if err != nil {
			return nil, err
		}
		perLink := make(map[string]int, len(links))
		for _, c := range clicks {
			perLink[c.LinkID]++
		}

		res.Clicks = len(clicks)
		clear(totals)
		for i := range links {
			links[i].ClickCount = perLink[links[i].ID]
			t := totals[links[i].CampaignID]
			t.TotalLinks++
			t.TotalClicks += links[i].ClickCount
			totals[links[i].CampaignID] = t
		}
		res.Links = len(links)
		return links, nil
	})
	if err != nil {
		return nil, err
	}

	err = storage.UpdateCampaigns(ctx, a.store, func(campaigns []storage.CampaignRecord) ([]storage.CampaignRecord, error) {
		for i := range campaigns {
			t := totals[campaigns[i].ID]
			campaigns[i].TotalLinks = t.TotalLinks
			campaigns[i].TotalClicks = t.TotalClicks
		}
		res.Campaigns = len(campaigns)
		return campaigns, nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
