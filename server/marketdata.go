package server

import (
	"sort"
	"sync"
	"time"

	"github.com/babylon-markets/a2a/types"
)

// MarketSource is the engine's read boundary to market reference data.
type MarketSource interface {
	// Market returns one market by id, or nil when unknown.
	Market(id string) *types.Market
	// List returns every known market.
	List() []types.Market
}

// Feed is an in-process MarketSource that also originates update events.
// Publish applies the update and hands it to the sink under the feed lock,
// so per-market delivery order matches emission order end-to-end.
type Feed struct {
	mu      sync.Mutex
	markets map[string]types.Market
	sink    func(types.MarketUpdate)
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{markets: make(map[string]types.Market)}
}

// OnUpdate sets the sink invoked for every published update. The server
// installs its fan-out here.
func (f *Feed) OnUpdate(sink func(types.MarketUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

// Seed adds or replaces a market.
func (f *Feed) Seed(m types.Market) {
	if m.LastUpdated.IsZero() {
		m.LastUpdated = time.Now()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets[m.ID] = m
}

// Market implements MarketSource.
func (f *Feed) Market(id string) *types.Market {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.markets[id]
	if !ok {
		return nil
	}
	return &m
}

// List implements MarketSource, sorted by market id.
func (f *Feed) List() []types.Market {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]types.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Publish applies an update to the backing market and forwards it to the
// sink. Updates for unknown markets are still forwarded; subscription is the
// delivery filter, not feed contents.
func (f *Feed) Publish(update types.MarketUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}

	f.mu.Lock()
	if m, ok := f.markets[update.MarketID]; ok {
		if update.YesPrice != 0 {
			m.YesPrice = update.YesPrice
		}
		if update.NoPrice != 0 {
			m.NoPrice = update.NoPrice
		}
		if update.Price != 0 {
			m.Price = update.Price
		}
		if update.Volume != 0 {
			m.Volume24h = update.Volume
		}
		m.LastUpdated = update.Timestamp
		f.markets[update.MarketID] = m
	}
	sink := f.sink
	if sink != nil {
		// Held lock serializes fan-out so two Publish calls for the same
		// market cannot interleave their deliveries.
		sink(update)
	}
	f.mu.Unlock()
}
