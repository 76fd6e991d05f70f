// Command probe-seeder fills a local SQLite telemetry store with synthetic
// DNS probe results and can nudge the trigger stream so a running
// sentinel-brain picks the batch up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/repo"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

type options struct {
	db       string
	target   string
	regions  []string
	outage   []string
	degraded []string
	minutes  int
	incident string
	redis    string
	stream   string
	actions  []string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "probe-seeder",
		Short:        "Seed synthetic DNS probe telemetry for local runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, utils.NewLogger("info", false))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.db, "db", "sentinel.db", "SQLite database path")
	f.StringVar(&opts.target, "target", "example.com", "DNS target the probes query")
	f.StringSliceVar(&opts.regions, "regions", []string{"us-central1", "europe-west1", "asia-east1"}, "Probe regions")
	f.StringSliceVar(&opts.outage, "outage", nil, "Regions that time out for the last third of the window")
	f.StringSliceVar(&opts.degraded, "degraded", nil, "Regions that answer SERVFAIL slowly for the last third of the window")
	f.IntVar(&opts.minutes, "minutes", 15, "Minutes of history to generate, one probe per region per minute")
	f.StringVar(&opts.incident, "incident", "", "Also store the window as a replayable incident with this id")
	f.StringVar(&opts.redis, "redis", "", "Redis address; when set a trigger event is appended")
	f.StringVar(&opts.stream, "stream", "sentinel:telemetry-batches", "Trigger stream name")
	f.StringSliceVar(&opts.actions, "action-id", nil, "Recent change ids to attach to the trigger event")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	if opts.minutes <= 0 {
		return fmt.Errorf("--minutes must be positive")
	}
	store, err := repo.NewSQLiteStore(opts.db)
	if err != nil {
		return err
	}
	defer store.Close()

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.Add(-time.Duration(opts.minutes) * time.Minute)
	records := generate(opts, start)
	if err := store.InsertRecords(ctx, records); err != nil {
		return fmt.Errorf("insert probes: %w", err)
	}
	logger.Info("probes seeded", slog.String("target", opts.target), slog.Int("records", len(records)), slog.String("db", opts.db))

	if opts.incident != "" {
		inc := models.Incident{IncidentID: opts.incident, Target: opts.target, Start: start, End: end}
		if err := store.InsertIncident(ctx, inc); err != nil {
			return fmt.Errorf("insert incident: %w", err)
		}
		logger.Info("incident stored", slog.String("incident_id", opts.incident))
	}

	if opts.redis == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: opts.redis})
	defer client.Close()
	id, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: opts.stream,
		Values: map[string]any{
			"target":            opts.target,
			"as_of":             end.Format(time.RFC3339Nano),
			"recent_action_ids": strings.Join(opts.actions, ","),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("append trigger event: %w", err)
	}
	logger.Info("trigger event appended", slog.String("stream", opts.stream), slog.String("id", id))
	return nil
}

func generate(opts options, start time.Time) []models.TelemetryRecord {
	outage := toSet(opts.outage)
	degraded := toSet(opts.degraded)
	impactFrom := opts.minutes - opts.minutes/3

	records := make([]models.TelemetryRecord, 0, opts.minutes*len(opts.regions))
	for minute := 0; minute < opts.minutes; minute++ {
		ts := start.Add(time.Duration(minute) * time.Minute)
		for _, region := range opts.regions {
			rec := models.TelemetryRecord{
				Timestamp:    ts.Add(time.Duration(rand.IntN(30)) * time.Second),
				Region:       region,
				Target:       opts.target,
				QueryType:    "A",
				LatencyMS:    15 + rand.Float64()*20,
				Status:       models.ProbeHealthy,
				Nameserver:   "ns1." + opts.target,
				ResponseCode: "NOERROR",
			}
			if minute >= impactFrom {
				switch {
				case outage[region]:
					rec.Status, rec.LatencyMS, rec.ResponseCode = models.ProbeTimeout, 0, ""
				case degraded[region]:
					rec.Status, rec.LatencyMS, rec.ResponseCode = models.ProbeDegraded, 400+rand.Float64()*200, "SERVFAIL"
				}
			}
			records = append(records, rec)
		}
	}
	return records
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.TrimSpace(v)] = true
	}
	return out
}
