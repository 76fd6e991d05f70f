package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/dnssentinel/sentinel-brain/internal/cache"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

const searchBody = `{"data":{"Get":{"Playbook":[
  {"incidentId":"INC-2024-001","summaryText":"us-central1 timeouts","resolutionAction":"FAILOVER","outcome":"resolved","_additional":{"certainty":0.91}},
  {"incidentId":"INC-2023-045","summaryText":"latency drift","resolutionAction":"scale_up","outcome":"resolved","_additional":{"distance":0.3}}
]}}}`

func TestSearchNotConfigured(t *testing.T) {
	r := NewWeaviateRepo("", "", "", time.Second, cache.NoopProvider{}, 0)
	if _, err := r.Search(context.Background(), []float32{1}, 3); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestSearchSendsNearVectorQuery(t *testing.T) {
	r := NewWeaviateRepo("https://weaviate.test/", "secret", "", time.Second, nil, 0)
	r.httpClient = stubHTTP(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/graphql" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected auth header: %q", got)
		}
		var payload map[string]string
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		query := payload["query"]
		if !strings.Contains(query, "Playbook(") || !strings.Contains(query, "nearVector: {vector: [0.5,0.25]}") || !strings.Contains(query, "limit: 2") {
			t.Fatalf("unexpected query: %s", query)
		}
		return jsonResponse(http.StatusOK, searchBody), nil
	})

	got, err := r.Search(context.Background(), []float32{0.5, 0.25}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected two hits, got %d", len(got))
	}
	if got[0].IncidentID != "INC-2024-001" || got[0].ResolutionAction != models.ActionFailover || got[0].Score != 0.91 {
		t.Fatalf("unexpected first hit: %+v", got[0])
	}
	if got[1].ResolutionAction != models.ActionScaleUp || got[1].Score < 0.69 || got[1].Score > 0.71 {
		t.Fatalf("unexpected second hit: %+v", got[1])
	}
}

func TestSearchCachesResults(t *testing.T) {
	var hits int
	cacheStub := cache.NewMemoryProvider()
	r := NewWeaviateRepo("https://weaviate.test", "", "", time.Second, cacheStub, time.Minute)
	r.httpClient = stubHTTP(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(http.StatusOK, searchBody), nil
	})

	ctx := context.Background()
	vector := []float32{0.1, 0.2, 0.3}
	if _, err := r.Search(ctx, vector, 3); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	second, err := r.Search(ctx, vector, 3)
	if err != nil {
		t.Fatalf("unexpected error on cached call: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}
	if len(second) != 2 || second[0].IncidentID != "INC-2024-001" {
		t.Fatalf("unexpected cached payload: %+v", second)
	}

	if _, err := r.Search(ctx, []float32{0.3, 0.2, 0.1}, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 2 {
		t.Fatalf("different vector should miss the cache; hits=%d", hits)
	}
}

func TestSearchPropagatesUpstreamFailure(t *testing.T) {
	r := NewWeaviateRepo("https://weaviate.test", "", "", time.Second, nil, 0)
	r.httpClient = stubHTTP(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusServiceUnavailable, "overloaded"), nil
	})
	if _, err := r.Search(context.Background(), []float32{1}, 3); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestSearchReportsGraphQLErrors(t *testing.T) {
	r := NewWeaviateRepo("https://weaviate.test", "", "", time.Second, nil, 0)
	r.httpClient = stubHTTP(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"errors":[{"message":"class Playbook not found"}]}`), nil
	})
	if _, err := r.Search(context.Background(), []float32{1}, 3); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected graphql error, got %v", err)
	}
}

func TestStorePlaybooksPostsObjects(t *testing.T) {
	var posted []map[string]any
	r := NewWeaviateRepo("https://weaviate.test", "", "", time.Second, nil, 0)
	r.httpClient = stubHTTP(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1/objects" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		posted = append(posted, body)
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	entries := []models.PlaybookEntry{{IncidentID: "INC-1", SummaryText: "x", Embedding: []float32{1, 0}, ResolutionAction: models.ActionFailover}}
	if err := r.StorePlaybooks(context.Background(), entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(posted) != 1 || posted[0]["class"] != "Playbook" {
		t.Fatalf("unexpected posted objects: %+v", posted)
	}
	props := posted[0]["properties"].(map[string]any)
	if props["incidentId"] != "INC-1" || props["resolutionAction"] != "FAILOVER" {
		t.Fatalf("unexpected properties: %+v", props)
	}
}
