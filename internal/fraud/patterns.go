package fraud

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Pattern string

const (
	PatternHighVelocity     Pattern = "high_velocity"
	PatternAmountClustering Pattern = "amount_clustering"
	PatternTimeClustering   Pattern = "time_clustering"
)

type PatternConfig struct {
	VelocityCount     int
	VelocityWindow    time.Duration
	ClusterCount      int
	ClusterLow        decimal.Decimal
	ClusterHigh       decimal.Decimal
	TimeClusterCount  int
	TimeClusterWindow time.Duration
}

func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		VelocityCount:     5,
		VelocityWindow:    10 * time.Minute,
		ClusterCount:      3,
		ClusterLow:        decimal.NewFromInt(950),
		ClusterHigh:       decimal.RequireFromString("999.99"),
		TimeClusterCount:  5,
		TimeClusterWindow: 5 * time.Minute,
	}
}

// DetectPatterns returns the batch-level patterns found in txs, in a stable order.
func DetectPatterns(txs []Transaction, cfg PatternConfig) []Pattern {
	var found []Pattern

	bySender := make(map[string][]time.Time)
	var all []time.Time
	clustered := 0
	for _, tx := range txs {
		if !tx.Time.IsZero() {
			all = append(all, tx.Time)
			if tx.SenderPhone != "" {
				bySender[tx.SenderPhone] = append(bySender[tx.SenderPhone], tx.Time)
			}
		}
		if tx.Amount.GreaterThanOrEqual(cfg.ClusterLow) && tx.Amount.LessThanOrEqual(cfg.ClusterHigh) {
			clustered++
		}
	}

	for _, times := range bySender {
		if denseWindow(times, cfg.VelocityCount, cfg.VelocityWindow) {
			found = append(found, PatternHighVelocity)
			break
		}
	}
	if cfg.ClusterCount > 0 && clustered >= cfg.ClusterCount {
		found = append(found, PatternAmountClustering)
	}
	if denseWindow(all, cfg.TimeClusterCount, cfg.TimeClusterWindow) {
		found = append(found, PatternTimeClustering)
	}
	return found
}

// denseWindow reports whether at least n timestamps fall within window of each other.
func denseWindow(times []time.Time, n int, window time.Duration) bool {
	if n <= 0 || len(times) < n {
		return false
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	for i := 0; i+n-1 < len(sorted); i++ {
		if sorted[i+n-1].Sub(sorted[i]) <= window {
			return true
		}
	}
	return false
}

func patternStrings(in []Pattern) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		out = append(out, string(p))
	}
	return out
}
