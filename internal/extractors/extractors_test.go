package extractors

import (
	"testing"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func probe(minute int, latency float64, status models.ProbeStatus, rcode string) models.TelemetryRecord {
	return models.TelemetryRecord{
		Timestamp:    start.Add(time.Duration(minute) * time.Minute),
		Region:       "us-central1",
		LatencyMS:    latency,
		Status:       status,
		ResponseCode: rcode,
	}
}

func TestLatencyExtractorDetect(t *testing.T) {
	recs := make([]models.TelemetryRecord, 0, 12)
	for i := 0; i < 10; i++ {
		recs = append(recs, probe(i, 20, models.ProbeHealthy, "NOERROR"))
	}
	recs = append(recs, probe(10, 400, models.ProbeDegraded, "NOERROR"))
	recs = append(recs, probe(11, 0, models.ProbeTimeout, ""))

	spikes := NewLatencyExtractor(0).Detect(recs)
	if len(spikes) != 1 || spikes[0].LatencyMS != 400 {
		t.Fatalf("expected one 400ms spike, got %+v", spikes)
	}
	if spikes[0].Threshold != 2.5 {
		t.Fatalf("expected default threshold, got %v", spikes[0].Threshold)
	}
}

func TestLatencyExtractorNeedsSamples(t *testing.T) {
	recs := []models.TelemetryRecord{
		probe(0, 20, models.ProbeHealthy, ""),
		probe(1, 900, models.ProbeHealthy, ""),
	}
	if spikes := NewLatencyExtractor(1).Detect(recs); spikes != nil {
		t.Fatalf("expected no spikes for a short window, got %+v", spikes)
	}
}

func TestRcodeExtractorDetect(t *testing.T) {
	recs := make([]models.TelemetryRecord, 0, 16)
	for i := 0; i < 10; i++ {
		recs = append(recs, probe(i, 20, models.ProbeHealthy, "NOERROR"))
	}
	for i := 0; i < 6; i++ {
		recs = append(recs, probe(8, 30, models.ProbeDegraded, "servfail"))
	}

	surges := NewRcodeExtractor(0).Detect(recs)
	if len(surges) != 1 {
		t.Fatalf("expected one surge, got %+v", surges)
	}
	if surges[0].Code != "SERVFAIL" || surges[0].Count != 6 || !surges[0].Bucket.Equal(start.Add(8*time.Minute)) {
		t.Fatalf("unexpected surge: %+v", surges[0])
	}
}

func TestRcodeExtractorSteadyErrorsAreBaseline(t *testing.T) {
	recs := make([]models.TelemetryRecord, 0, 10)
	for i := 0; i < 10; i++ {
		recs = append(recs, probe(i, 20, models.ProbeDegraded, "SERVFAIL"))
	}
	if surges := NewRcodeExtractor(time.Minute).Detect(recs); len(surges) != 0 {
		t.Fatalf("expected no surges for a flat error rate, got %+v", surges)
	}
}
