package service

import "sync"

// AccountingGate keeps counter rebuilds apart from counter maintenance.
// Any number of accounting units may run under Track at once. Quiesce waits
// for them to finish and holds new ones back until its fn returns. A nil
// gate runs fn directly.
type AccountingGate struct {
	mu sync.RWMutex
}

func NewAccountingGate() *AccountingGate {
	return &AccountingGate{}
}

// Track runs one unit of counter maintenance, such as a click append and
// its counter updates, as a whole.
func (g *AccountingGate) Track(fn func() error) error {
	if g == nil {
		return fn()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}

// Quiesce runs fn while no tracked unit is in flight.
func (g *AccountingGate) Quiesce(fn func() error) error {
	if g == nil {
		return fn()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
