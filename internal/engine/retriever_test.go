package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/dnssentinel/sentinel-brain/internal/models"
)

type fakeIndex struct {
	calls   int
	errs    []error
	entries []models.PlaybookEntry
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, k int) ([]models.PlaybookEntry, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.entries, nil
}

func TestRetrieveSortsAndTruncates(t *testing.T) {
	index := &fakeIndex{entries: []models.PlaybookEntry{
		{IncidentID: "INC-B", Score: 0.4},
		{IncidentID: "INC-A", Score: 0.9},
		{IncidentID: "INC-A", Score: 0.9},
		{IncidentID: "INC-C", Score: 0.7},
		{IncidentID: "INC-D", Score: 0.1},
	}}
	r := NewRetriever(index, nil)
	got, degraded := r.Retrieve(context.Background(), []float32{1}, 3)
	if degraded {
		t.Fatalf("did not expect degraded retrieval")
	}
	want := []string{"INC-A", "INC-C", "INC-B"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %+v", len(want), got)
	}
	for i, id := range want {
		if got[i].IncidentID != id {
			t.Fatalf("position %d: want %s got %s", i, id, got[i].IncidentID)
		}
	}
}

func TestRetrieveRetriesOnce(t *testing.T) {
	index := &fakeIndex{errs: []error{errors.New("connection reset")}, entries: []models.PlaybookEntry{{IncidentID: "INC-1", Score: 1}}}
	r := NewRetriever(index, nil)
	r.backoff = 0
	got, degraded := r.Retrieve(context.Background(), nil, 3)
	if degraded || len(got) != 1 {
		t.Fatalf("expected recovery after one retry, got %+v degraded=%v", got, degraded)
	}
	if index.calls != 2 {
		t.Fatalf("expected two calls, got %d", index.calls)
	}
}

func TestRetrieveDegradesAfterSecondFailure(t *testing.T) {
	index := &fakeIndex{errs: []error{errors.New("down"), errors.New("down"), nil}}
	r := NewRetriever(index, nil)
	r.backoff = 0
	got, degraded := r.Retrieve(context.Background(), nil, 3)
	if !degraded || got != nil {
		t.Fatalf("expected degraded empty retrieval, got %+v", got)
	}
	if index.calls != 2 {
		t.Fatalf("expected exactly two calls, got %d", index.calls)
	}
}

func TestRetrieveEmptyIsDegraded(t *testing.T) {
	r := NewRetriever(&fakeIndex{}, nil)
	if _, degraded := r.Retrieve(context.Background(), nil, 3); !degraded {
		t.Fatalf("empty index should be reported as degraded")
	}
	if _, degraded := NewRetriever(nil, nil).Retrieve(context.Background(), nil, 3); !degraded {
		t.Fatalf("missing index should be reported as degraded")
	}
}
