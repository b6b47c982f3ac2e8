// Package derive computes the dashboard's client-side views from a loaded
// event batch: summary cards, the product catalogue, product search and the
// chart datasets built from search matches. Everything here is pure.
package derive

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/user/storedash/internal/types"
)

const unknown = "Unknown"

// Summary is the headline numbers of a batch.
type Summary struct {
	EventCount        int     `json:"event_count"`
	UniqueStores      int     `json:"unique_stores"`
	UniqueEventTypes  int     `json:"unique_event_types"`
	TotalAmount       float64 `json:"total_amount"`
	FromPrimarySource bool    `json:"from_primary_source"`
}

func Summarize(batch types.EventBatch) Summary {
	stores := make(map[string]struct{})
	kinds := make(map[string]struct{})
	var total float64
	for _, ev := range batch.Events {
		stores[ev.StoreID] = struct{}{}
		kinds[ev.EventType] = struct{}{}
		total += ev.Payload.Amount
	}
	return Summary{
		EventCount:        len(batch.Events),
		UniqueStores:      len(stores),
		UniqueEventTypes:  len(kinds),
		TotalAmount:       total,
		FromPrimarySource: batch.FromPrimarySource,
	}
}

// Catalogue is the product list of a batch with its provenance.
type Catalogue struct {
	Products          []string `json:"products"`
	FromPrimarySource bool     `json:"from_primary_source"`
}

func NewCatalogue(batch types.EventBatch) Catalogue {
	return Catalogue{Products: Products(batch.Events), FromPrimarySource: batch.FromPrimarySource}
}

// Products returns the sorted set of product names appearing in events.
func Products(events []types.Event) []string {
	seen := make(map[string]struct{})
	for _, ev := range events {
		for _, item := range ev.Payload.Items {
			seen[item] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ProductMatch is one product line of one event that matched a search.
type ProductMatch struct {
	EventID          string    `json:"event_id"`
	StoreID          string    `json:"store_id"`
	Timestamp        time.Time `json:"timestamp"`
	Product          string    `json:"product"`
	Amount           float64   `json:"amount"`
	CustomerCategory string    `json:"customer_category"`
	PaymentMethod    string    `json:"payment_method"`
	Season           string    `json:"season"`
}

// SearchProducts returns a match for every item whose name contains query,
// ignoring case, in event order. A blank query matches nothing.
func SearchProducts(events []types.Event, query string) []ProductMatch {
	q := strings.ToLower(strings.TrimSpace(query))
	out := []ProductMatch{}
	if q == "" {
		return out
	}
	for _, ev := range events {
		for _, item := range ev.Payload.Items {
			if !strings.Contains(strings.ToLower(item), q) {
				continue
			}
			out = append(out, ProductMatch{
				EventID:          ev.EventID,
				StoreID:          ev.StoreID,
				Timestamp:        ev.Ts.Time,
				Product:          item,
				Amount:           ev.Payload.Amount,
				CustomerCategory: orUnknown(ev.Payload.CustomerCategory),
				PaymentMethod:    orUnknown(ev.Payload.PaymentMethod),
				Season:           orUnknown(ev.Payload.Season),
			})
		}
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

// ProductSearch bundles a search with its totals and charts.
type ProductSearch struct {
	Query             string         `json:"query"`
	Matches           []ProductMatch `json:"matches"`
	TotalRevenue      float64        `json:"total_revenue"`
	AverageAmount     float64        `json:"average_amount"`
	Stores            []string       `json:"stores"`
	Charts            Charts         `json:"charts"`
	FromPrimarySource bool           `json:"from_primary_source"`
}

// Search runs SearchProducts over batch and derives totals and charts from
// the matches.
func Search(batch types.EventBatch, query string) ProductSearch {
	matches := SearchProducts(batch.Events, query)
	res := ProductSearch{
		Query:             query,
		Matches:           matches,
		Stores:            []string{},
		Charts:            BuildCharts(matches),
		FromPrimarySource: batch.FromPrimarySource,
	}
	seen := make(map[string]struct{})
	for _, m := range matches {
		res.TotalRevenue += m.Amount
		if _, ok := seen[m.StoreID]; !ok {
			seen[m.StoreID] = struct{}{}
			res.Stores = append(res.Stores, m.StoreID)
		}
	}
	if len(matches) > 0 {
		res.AverageAmount = res.TotalRevenue / float64(len(matches))
	}
	return res
}

type MonthAmount struct {
	Month  string `json:"month"`
	Amount int64  `json:"amount"`
}

type StoreAmount struct {
	Store  string `json:"store"`
	Amount int64  `json:"amount"`
}

type SeasonAmount struct {
	Season string `json:"season"`
	Amount int64  `json:"amount"`
}

type CategoryAmount struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// Charts holds the four chart datasets. Amounts are rounded to whole units
// after summing.
type Charts struct {
	SalesTrend    []MonthAmount    `json:"sales_trend"`
	StoreSales    []StoreAmount    `json:"store_sales"`
	SeasonSales   []SeasonAmount   `json:"season_sales"`
	CustomerSales []CategoryAmount `json:"customer_sales"`
}

// BuildCharts aggregates matches into chart datasets: the sales trend is
// ordered by month, the others by amount descending.
func BuildCharts(matches []ProductMatch) Charts {
	charts := Charts{
		SalesTrend:    []MonthAmount{},
		StoreSales:    []StoreAmount{},
		SeasonSales:   []SeasonAmount{},
		CustomerSales: []CategoryAmount{},
	}

	type monthKey struct {
		year  int
		month time.Month
	}
	months := make(map[monthKey]float64)
	stores := make(map[string]float64)
	seasons := make(map[string]float64)
	categories := make(map[string]float64)
	for _, m := range matches {
		t := m.Timestamp.UTC()
		months[monthKey{t.Year(), t.Month()}] += m.Amount
		stores[m.StoreID] += m.Amount
		seasons[orUnknown(m.Season)] += m.Amount
		categories[orUnknown(m.CustomerCategory)] += m.Amount
	}

	keys := make([]monthKey, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})
	for _, k := range keys {
		label := time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC).Format("Jan 2006")
		charts.SalesTrend = append(charts.SalesTrend, MonthAmount{Month: label, Amount: round(months[k])})
	}

	for _, b := range ranked(stores) {
		charts.StoreSales = append(charts.StoreSales, StoreAmount{Store: b.label, Amount: b.amount})
	}
	for _, b := range ranked(seasons) {
		charts.SeasonSales = append(charts.SeasonSales, SeasonAmount{Season: b.label, Amount: b.amount})
	}
	for _, b := range ranked(categories) {
		charts.CustomerSales = append(charts.CustomerSales, CategoryAmount{Category: b.label, Amount: b.amount})
	}
	return charts
}

type bucket struct {
	label  string
	amount int64
}

// ranked rounds each total and orders buckets by amount descending, then by
// label.
func ranked(totals map[string]float64) []bucket {
	out := make([]bucket, 0, len(totals))
	for label, amount := range totals {
		out = append(out, bucket{label: label, amount: round(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].amount != out[j].amount {
			return out[i].amount > out[j].amount
		}
		return out[i].label < out[j].label
	})
	return out
}

func round(f float64) int64 {
	return int64(math.Round(f))
}
