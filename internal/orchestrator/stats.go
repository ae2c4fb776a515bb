package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/msageha/taskforge/internal/model"
)

// Stats counts items per variant and stage status straight from the store.
type Stats struct {
	Variants []VariantStats
}

type VariantStats struct {
	Variant model.Variant
	Total   int
	// Stages maps stage name to status counts, in pipeline order.
	Stages []StageStats
}

type StageStats struct {
	Stage  string
	Counts map[model.StageStatus]int
}

// Stats reads the whole data directory. It takes no lock: counts are
// advisory and a concurrent run only makes them momentarily stale.
func (o *Orchestrator) Stats() (*Stats, error) {
	stats := &Stats{}
	byVariant := o.registry.StagesByVariant()

	variants := make([]model.Variant, 0, len(byVariant))
	for v := range byVariant {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })

	for _, variant := range variants {
		items, err := o.store.List(variant, nil)
		if err != nil {
			return nil, err
		}
		vs := VariantStats{Variant: variant, Total: len(items)}
		for _, name := range byVariant[variant] {
			ss := StageStats{Stage: name, Counts: make(map[model.StageStatus]int)}
			for _, item := range items {
				ss.Counts[item.StageStatusOf(name)]++
			}
			vs.Stages = append(vs.Stages, ss)
		}
		stats.Variants = append(stats.Variants, vs)
	}
	return stats, nil
}

func (s *Stats) String() string {
	order := []model.StageStatus{
		model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusFailed,
	}
	var sb strings.Builder
	for _, vs := range s.Variants {
		fmt.Fprintf(&sb, "%s (%d)\n", vs.Variant, vs.Total)
		for _, ss := range vs.Stages {
			fmt.Fprintf(&sb, "  %-16s", ss.Stage)
			for _, st := range order {
				if n := ss.Counts[st]; n > 0 {
					fmt.Fprintf(&sb, " %s=%d", st, n)
				}
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
