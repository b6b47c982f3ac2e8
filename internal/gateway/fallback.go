package gateway

import (
	"fmt"
	"time"

	"github.com/user/storedash/internal/types"
)

// Vocabularies for synthesized events.
var (
	sampleProducts   = []string{"coffee maker", "blender", "toaster", "microwave", "air fryer", "rice cooker"}
	sampleStores     = []string{"Los Angeles", "New York", "Chicago", "Miami", "Seattle"}
	sampleEventTypes = []string{"sale", "inventory", "visit", "return", "restock"}
	sampleCategories = []string{"VIP", "Regular", "New"}
	samplePayments   = []string{"Credit Card", "Debit Card", "Cash", "Digital Wallet"}
	sampleSeasons    = []string{"winter", "spring", "summer", "fall"}
)

const day = 24 * time.Hour

// synthesize builds the sample batch: event i is dated i days before now
// (wrapping at FallbackDays) and draws every field uniformly from the sample
// vocabularies. Amounts fall in [10, 510).
func (g *Gateway) synthesize() []types.Event {
	g.randMu.Lock()
	defer g.randMu.Unlock()

	n := g.opts.FallbackCount
	days := g.opts.FallbackDays
	if days <= 0 {
		days = n
	}
	now := g.now().UTC()
	pick := func(vocab []string) string { return vocab[g.rand.IntN(len(vocab))] }

	events := make([]types.Event, 0, n)
	for i := 0; i < n; i++ {
		offset := i % days
		events = append(events, types.Event{
			EventID:   fmt.Sprintf("event_%d", i),
			StoreID:   pick(sampleStores),
			Ts:        types.Timestamp{Time: now.Add(-time.Duration(offset) * day)},
			EventType: pick(sampleEventTypes),
			Payload: types.Payload{
				Amount:           g.rand.Float64()*500 + 10,
				Items:            types.Items{pick(sampleProducts)},
				CustomerCategory: pick(sampleCategories),
				PaymentMethod:    pick(samplePayments),
				Season:           pick(sampleSeasons),
			},
		})
	}
	return events
}
