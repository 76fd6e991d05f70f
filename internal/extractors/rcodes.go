package extractors

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

// RcodeSurge is a time bucket where error response codes jumped above the
// window's baseline.
type RcodeSurge struct {
	Bucket time.Time
	Code   string
	Count  int
	Score  float64
}

// RcodeExtractor buckets error rcodes per interval and flags buckets that
// deviate from the median by a robust score.
type RcodeExtractor struct {
	bucket time.Duration
}

// NewRcodeExtractor creates a detector using bucket-sized intervals, one
// minute when bucket is not positive.
func NewRcodeExtractor(bucket time.Duration) *RcodeExtractor {
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &RcodeExtractor{bucket: bucket}
}

// Detect returns surges in non-NOERROR response codes. SERVFAIL bursts are
// flagged at a lower bar than the general score.
func (e *RcodeExtractor) Detect(recs []models.TelemetryRecord) []RcodeSurge {
	type key struct {
		bucket time.Time
		code   string
	}
	counts := make(map[key]int)
	buckets := make(map[time.Time]struct{})
	for _, rec := range recs {
		bucket := rec.Timestamp.UTC().Truncate(e.bucket)
		buckets[bucket] = struct{}{}
		code := strings.ToUpper(rec.ResponseCode)
		if code == "" || code == "NOERROR" {
			continue
		}
		counts[key{bucket, code}]++
	}
	if len(counts) == 0 || len(buckets) < 3 {
		return nil
	}

	byCode := make(map[string][]float64)
	for k, n := range counts {
		byCode[k.code] = append(byCode[k.code], float64(n))
	}
	// Buckets without the code count as zero towards its baseline.
	for code, values := range byCode {
		for i := len(values); i < len(buckets); i++ {
			values = append(values, 0)
		}
		byCode[code] = values
	}

	var surges []RcodeSurge
	for k, n := range counts {
		values := byCode[k.code]
		median := utils.Percentile(values, 50)
		mad := meanAbsoluteDeviation(values, median)
		if mad == 0 {
			mad = 1
		}
		score := math.Abs(float64(n)-median) / mad
		switch {
		case score >= 3:
		case k.code == "SERVFAIL" && float64(n) > median*1.3 && n > 1:
			score = 3
		default:
			continue
		}
		surges = append(surges, RcodeSurge{Bucket: k.bucket, Code: k.code, Count: n, Score: score})
	}
	sort.Slice(surges, func(i, j int) bool {
		if surges[i].Bucket.Equal(surges[j].Bucket) {
			return surges[i].Code < surges[j].Code
		}
		return surges[i].Bucket.Before(surges[j].Bucket)
	})
	return surges
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
