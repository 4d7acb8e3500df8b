package llm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/tripwire/pkg/models"
)

// maxSummaryEvents bounds the per-line event listing in a summary.
const maxSummaryEvents = 10

// Summarize renders a context window into a fixed-schema textual digest:
// event type, time range with human duration, total count, the most
// recent entries one per line, and opportunistic statistics over commonly
// seen numeric fields. The output is byte-stable for identical inputs,
// which the decision cache relies on.
func Summarize(entries []models.ContextEntry) string {
	if len(entries) == 0 {
		return "No historical events in context window."
	}

	sorted := make([]models.ContextEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	start := sorted[0].Timestamp
	end := sorted[len(sorted)-1].Timestamp

	var b strings.Builder
	fmt.Fprintf(&b, "Event Type: %s\n", sorted[0].EventType)
	fmt.Fprintf(&b, "Time Range: %s - %s (%s)\n",
		start.UTC().Format("15:04:05"), end.UTC().Format("15:04:05"), formatDuration(end.Sub(start)))
	fmt.Fprintf(&b, "Total Events: %d\n", len(sorted))
	b.WriteString("\nRecent Events:\n")

	recent := sorted
	if len(recent) > maxSummaryEvents {
		recent = recent[len(recent)-maxSummaryEvents:]
	}
	for i, entry := range recent {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, entry.Timestamp.UTC().Format("15:04:05"), formatEntryData(entry.Data))
	}

	if stats := statistics(sorted); len(stats) > 0 {
		b.WriteString("\nStatistics:\n")
		for _, line := range stats {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

// formatEntryData compacts one event's data to a single line, preferring
// commonly seen fields before falling back to compact JSON.
func formatEntryData(data map[string]any) string {
	if len(data) == 0 {
		return "(no data)"
	}

	var parts []string
	if symbol, ok := data["symbol"].(string); ok {
		parts = append(parts, symbol)
	}
	if profit, ok := data["profit"]; ok {
		if f, ok := profit.(float64); ok {
			parts = append(parts, fmt.Sprintf("%+.2f", f))
		} else {
			parts = append(parts, fmt.Sprintf("%v", profit))
		}
	}
	if rate, ok := data["profit_rate"]; ok {
		if f, ok := rate.(float64); ok {
			parts = append(parts, fmt.Sprintf("(%+.1f%%)", f*100))
		} else {
			parts = append(parts, fmt.Sprintf("%v", rate))
		}
	}
	if price, ok := data["price"]; ok {
		parts = append(parts, fmt.Sprintf("price=%v", price))
	}
	if rate, ok := data["change_rate"].(float64); ok {
		parts = append(parts, fmt.Sprintf("(%+.1f%%)", rate*100))
	}
	if cpu, ok := data["cpu_usage"].(float64); ok {
		parts = append(parts, fmt.Sprintf("CPU=%.0f%%", cpu*100))
	}
	if mem, ok := data["memory_usage"].(float64); ok {
		parts = append(parts, fmt.Sprintf("MEM=%.0f%%", mem*100))
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}

	// json.Marshal sorts map keys, keeping the fallback stable.
	raw, err := json.Marshal(data)
	if err != nil {
		return "(no data)"
	}
	return head(string(raw), 100)
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	switch {
	case total < 60:
		return fmt.Sprintf("%ds", total)
	case total < 3600:
		return fmt.Sprintf("%dm %ds", total/60, total%60)
	default:
		return fmt.Sprintf("%dh %dm", total/3600, (total%3600)/60)
	}
}

// statistics derives aggregate lines from commonly seen numeric fields.
func statistics(entries []models.ContextEntry) []string {
	numeric := map[string][]float64{}
	for _, entry := range entries {
		for key, value := range entry.Data {
			if f, ok := value.(float64); ok {
				numeric[key] = append(numeric[key], f)
			}
		}
	}

	var stats []string
	if values, ok := numeric["profit"]; ok {
		var total float64
		wins := 0
		for _, v := range values {
			total += v
			if v > 0 {
				wins++
			}
		}
		stats = append(stats, fmt.Sprintf("- Total profit: %+.2f", total))
		stats = append(stats, fmt.Sprintf("- Win/Loss: %d/%d", wins, len(values)-wins))
	}
	if values, ok := numeric["profit_rate"]; ok {
		var total float64
		for _, v := range values {
			total += v
		}
		stats = append(stats, fmt.Sprintf("- Average profit rate: %+.1f%%", total/float64(len(values))*100))
	}
	if values, ok := numeric["price"]; ok && len(values) >= 2 && values[0] != 0 {
		change := (values[len(values)-1] - values[0]) / values[0] * 100
		stats = append(stats, fmt.Sprintf("- Price change: %+.2f%%", change))
	}
	return stats
}
