package repo

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// TextEncoder maps text to a fixed-dimension vector.
type TextEncoder interface {
	Encode(text string) []float32
}

// FilePlaybookIndex is an in-memory playbook index loaded from YAML. Entries
// are embedded with the same encoder used for telemetry summaries.
type FilePlaybookIndex struct {
	entries []models.PlaybookEntry
}

type playbookFile struct {
	Playbooks []models.PlaybookEntry `yaml:"playbooks"`
}

// LoadPlaybookFile reads and embeds the playbooks at path.
func LoadPlaybookFile(path string, encoder TextEncoder) (*FilePlaybookIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read playbooks: %w", err)
	}
	var file playbookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse playbooks: %w", err)
	}
	return NewFilePlaybookIndex(file.Playbooks, encoder), nil
}

// NewFilePlaybookIndex embeds entries that carry no vector yet.
func NewFilePlaybookIndex(entries []models.PlaybookEntry, encoder TextEncoder) *FilePlaybookIndex {
	out := make([]models.PlaybookEntry, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Embedding) == 0 && encoder != nil {
			entry.Embedding = encoder.Encode(entry.SummaryText)
		}
		out = append(out, entry)
	}
	return &FilePlaybookIndex{entries: out}
}

// Entries returns the loaded playbooks.
func (f *FilePlaybookIndex) Entries() []models.PlaybookEntry {
	return append([]models.PlaybookEntry(nil), f.entries...)
}

// Search ranks entries by cosine similarity to vector.
func (f *FilePlaybookIndex) Search(ctx context.Context, vector []float32, k int) ([]models.PlaybookEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scored := make([]models.PlaybookEntry, 0, len(f.entries))
	for _, entry := range f.entries {
		entry.Score = cosine(vector, entry.Embedding)
		entry.Embedding = nil
		scored = append(scored, entry)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score == scored[j].Score {
			return scored[i].IncidentID < scored[j].IncidentID
		}
		return scored[i].Score > scored[j].Score
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
