package telemetry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// Render produces the compact, stable description of a window used for
// embedding and prompting. Identical windows always render identically.
func Render(w models.TelemetryWindow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "target=%s window=%s..%s records=%d non_healthy_regions=%d\n",
		w.Target, w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339), w.Records, w.NonHealthyCount())

	for _, name := range w.RegionNames() {
		r := w.Regions[name]
		fmt.Fprintf(&b, "region=%s status=%s worst=%s samples=%d healthy=%d degraded=%d timeout=%d error_rate=%.2f error_streak=%d p50_ms=%.0f p95_ms=%.0f max_ms=%.0f",
			name, r.Current, r.Worst, r.Samples, r.Healthy, r.Degraded, r.Timeouts, r.ErrorRate(), r.ErrorStreak, r.P50LatencyMS, r.P95LatencyMS, r.MaxLatencyMS)
		if r.LatencySpikes > 0 {
			fmt.Fprintf(&b, " latency_spikes=%d", r.LatencySpikes)
		}
		if r.RcodeSurges > 0 {
			fmt.Fprintf(&b, " rcode_surges=%d", r.RcodeSurges)
		}
		if codes := renderCodes(r.ResponseCodes); codes != "" {
			fmt.Fprintf(&b, " rcodes=%s", codes)
		}
		b.WriteByte('\n')
	}
	for _, name := range w.Unknown {
		fmt.Fprintf(&b, "region=%s status=UNKNOWN samples=0\n", name)
	}
	return b.String()
}

func renderCodes(codes map[string]int) string {
	if len(codes) == 0 {
		return ""
	}
	keys := make([]string, 0, len(codes))
	for k := range codes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, codes[k]))
	}
	return strings.Join(parts, ",")
}
