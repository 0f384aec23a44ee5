package reporting

import (
	"cmp"
	"slices"

	"github.com/ehr/census/internal/platform/batch"
)

// MeasureDefinition describes a summary computed over the latest run.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	eval        func(*batch.Result) []map[string]interface{}
}

// PredefinedMeasures is the list of available measures.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "unit-occupancy",
		Name:        "Unit Occupancy",
		Description: "Mean and peak hourly census and total patient hours per unit",
		eval:        unitOccupancy,
	},
	{
		ID:          "length-of-stay",
		Name:        "Length of Stay",
		Description: "Stay count, mean, median and longest stay in hours per unit",
		eval:        lengthOfStay,
	},
	{
		ID:          "unit-flow",
		Name:        "Unit Flow",
		Description: "Number of stays by origin and unit",
		eval:        unitFlow,
	},
	{
		ID:          "hourly-profile",
		Name:        "Hourly Profile",
		Description: "Mean total census by hour of day",
		eval:        hourlyProfile,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

func unitOccupancy(res *batch.Result) []map[string]interface{} {
	t := res.Census
	out := make([]map[string]interface{}, 0, len(t.Units))
	for _, unit := range t.Units {
		var sum, peak float64
		var peakAt interface{}
		for _, row := range t.Rows {
			v := row.Units[unit]
			sum += v
			if v > peak {
				peak, peakAt = v, row.Timestamp
			}
		}
		mean := 0.0
		if len(t.Rows) > 0 {
			mean = sum / float64(len(t.Rows))
		}
		out = append(out, map[string]interface{}{
			"unit":          unit,
			"mean_census":   mean,
			"peak_census":   peak,
			"peak_at":       peakAt,
			"patient_hours": sum,
		})
	}
	return out
}

func lengthOfStay(res *batch.Result) []map[string]interface{} {
	byUnit := map[string][]float64{}
	for _, s := range res.Stays {
		byUnit[s.Unit] = append(byUnit[s.Unit], s.Hours)
	}
	units := make([]string, 0, len(byUnit))
	for u := range byUnit {
		units = append(units, u)
	}
	slices.Sort(units)

	out := make([]map[string]interface{}, 0, len(units))
	for _, u := range units {
		hours := byUnit[u]
		slices.Sort(hours)
		var sum float64
		for _, h := range hours {
			sum += h
		}
		n := len(hours)
		median := hours[n/2]
		if n%2 == 0 {
			median = (hours[n/2-1] + hours[n/2]) / 2
		}
		out = append(out, map[string]interface{}{
			"unit":         u,
			"stays":        n,
			"mean_hours":   sum / float64(n),
			"median_hours": median,
			"max_hours":    hours[n-1],
		})
	}
	return out
}

func unitFlow(res *batch.Result) []map[string]interface{} {
	type edge struct{ from, to string }
	counts := map[edge]int{}
	for _, s := range res.Stays {
		counts[edge{s.CameFrom, s.Unit}]++
	}
	edges := make([]edge, 0, len(counts))
	for e := range counts {
		edges = append(edges, e)
	}
	slices.SortFunc(edges, func(a, b edge) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), cmp.Compare(a.from, b.from), cmp.Compare(a.to, b.to))
	})

	out := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		out = append(out, map[string]interface{}{"came_from": e.from, "unit": e.to, "stays": counts[e]})
	}
	return out
}

func hourlyProfile(res *batch.Result) []map[string]interface{} {
	var sum [24]float64
	var n [24]int
	for _, row := range res.Census.Rows {
		sum[row.Hour] += row.Total
		n[row.Hour]++
	}
	out := make([]map[string]interface{}, 0, 24)
	for h := 0; h < 24; h++ {
		mean := 0.0
		if n[h] > 0 {
			mean = sum[h] / float64(n[h])
		}
		out = append(out, map[string]interface{}{"hour": h, "mean_census": mean, "samples": n[h]})
	}
	return out
}
