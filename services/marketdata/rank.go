package marketdata

import (
	"sort"

	"tradermind_backend/models"
)

// MoverLimit caps each movers bucket.
const MoverLimit = 10

// BuildMoverSet ranks a batch of quotes into gainers, losers and most
// active by volume. Input order does not matter; ties keep input order.
func BuildMoverSet(quotes []models.Quote) models.MoverSet {
	gainers := make([]models.Quote, len(quotes))
	copy(gainers, quotes)
	sort.SliceStable(gainers, func(i, j int) bool {
		return gainers[i].ChangePercent > gainers[j].ChangePercent
	})

	losers := make([]models.Quote, len(quotes))
	copy(losers, quotes)
	sort.SliceStable(losers, func(i, j int) bool {
		return losers[i].ChangePercent < losers[j].ChangePercent
	})

	active := make([]models.Quote, len(quotes))
	copy(active, quotes)
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Volume > active[j].Volume
	})

	return models.MoverSet{
		Gainers:    truncateQuotes(gainers, MoverLimit),
		Losers:     truncateQuotes(losers, MoverLimit),
		MostActive: truncateQuotes(active, MoverLimit),
	}
}

// SectorsFromQuotes averages change percent per sector over the quotes
// that were actually fetched. Sectors with no quotes are omitted.
func SectorsFromQuotes(sectorMap map[string][]string, quotes []models.Quote, sourceTag string) []models.SectorPerformance {
	bySymbol := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}

	out := make([]models.SectorPerformance, 0, len(sectorMap))
	for sector, symbols := range sectorMap {
		var sum float64
		var n int
		for _, s := range symbols {
			if q, ok := bySymbol[s]; ok {
				sum += q.ChangePercent
				n++
			}
		}
		if n == 0 {
			continue
		}
		out = append(out, models.SectorPerformance{
			SectorName:         sector,
			PerformancePercent: sum / float64(n),
			SourceTag:          sourceTag,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].PerformancePercent > out[j].PerformancePercent
	})
	return out
}

func truncateQuotes(qs []models.Quote, limit int) []models.Quote {
	if len(qs) > limit {
		qs = qs[:limit]
	}
	return qs
}
