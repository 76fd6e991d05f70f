package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// VectorIndex is the playbook similarity index.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, k int) ([]models.PlaybookEntry, error)
}

// Retriever fetches the nearest playbooks for a window summary vector.
type Retriever struct {
	index   VectorIndex
	logger  *slog.Logger
	backoff time.Duration
}

// NewRetriever wraps a vector index. A nil index makes every retrieval degraded.
func NewRetriever(index VectorIndex, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{index: index, logger: logger, backoff: 100 * time.Millisecond}
}

// Retrieve returns at most k playbooks, most similar first. Failures never
// abort the cycle: the second return value reports that retrieval was
// degraded, either because the index was unreachable or returned nothing.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32, k int) ([]models.PlaybookEntry, bool) {
	if r == nil || r.index == nil || k <= 0 {
		return nil, true
	}

	entries, err := r.index.Search(ctx, vector, k)
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("playbook search failed, retrying", slog.Any("error", err))
		select {
		case <-ctx.Done():
		case <-time.After(r.backoff):
			entries, err = r.index.Search(ctx, vector, k)
		}
	}
	if err != nil || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		r.logger.Warn("playbook retrieval degraded", slog.Any("error", errors.Join(ErrRetrievalDegraded, err)))
		return nil, true
	}

	entries = rank(entries, k)
	return entries, len(entries) == 0
}

func rank(entries []models.PlaybookEntry, k int) []models.PlaybookEntry {
	out := make([]models.PlaybookEntry, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if entry.IncidentID == "" {
			continue
		}
		if _, ok := seen[entry.IncidentID]; ok {
			continue
		}
		seen[entry.IncidentID] = struct{}{}
		entry.Embedding = nil
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
