package repo

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dnssentinel/sentinel-brain/internal/cache"
	"github.com/dnssentinel/sentinel-brain/internal/models"
)

// WeaviateRepo searches the playbook index stored in Weaviate.
type WeaviateRepo struct {
	endpoint   string
	apiKey     string
	class      string
	httpClient *http.Client
	cache      cache.Lookup
	searchTTL  time.Duration
}

// NewWeaviateRepo constructs a Weaviate client.
func NewWeaviateRepo(endpoint, apiKey, class string, timeout time.Duration, cacheProvider cache.Lookup, searchTTL time.Duration) *WeaviateRepo {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if searchTTL < 0 {
		searchTTL = 0
	}
	if class == "" {
		class = "Playbook"
	}
	return &WeaviateRepo{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		class:      class,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		searchTTL:  searchTTL,
	}
}

// StorePlaybooks upserts playbook entries with their vectors.
func (r *WeaviateRepo) StorePlaybooks(ctx context.Context, entries []models.PlaybookEntry) error {
	if r == nil || r.endpoint == "" {
		return errors.New("weaviate repo not configured")
	}

	for _, entry := range entries {
		payload := map[string]interface{}{
			"class":      r.class,
			"properties": buildPlaybookProperties(entry),
			"vector":     entry.Embedding,
		}

		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/objects", bytes.NewReader(body))
		if err != nil {
			return err
		}
		r.setHeaders(req)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("store playbook %s failed: %s", entry.IncidentID, strings.TrimSpace(string(data)))
		}
		resp.Body.Close()
	}
	return nil
}

// Search returns up to k playbooks nearest to vector, most similar first.
func (r *WeaviateRepo) Search(ctx context.Context, vector []float32, k int) ([]models.PlaybookEntry, error) {
	if r == nil || r.endpoint == "" {
		return nil, errors.New("weaviate repo not configured")
	}
	if k <= 0 {
		return nil, nil
	}

	cacheKey := ""
	if r.searchTTL > 0 {
		cacheKey = cacheSearchKey(r.class, vector, k)
		if data, err := r.cache.Get(ctx, cacheKey); err == nil {
			var cached []models.PlaybookEntry
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}

	gql := map[string]interface{}{
		"query": fmt.Sprintf(`{
          Get {
            %s(
              limit: %d
              nearVector: {vector: %s}
            ) {
              incidentId
              summaryText
              resolutionAction
              outcome
              _additional { certainty distance }
            }
          }
        }`, r.class, k, formatVector(vector)),
	}

	payload, err := json.Marshal(gql)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/v1/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	r.setHeaders(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("weaviate search failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var response struct {
		Data struct {
			Get map[string][]struct {
				IncidentID       string `json:"incidentId"`
				SummaryText      string `json:"summaryText"`
				ResolutionAction string `json:"resolutionAction"`
				Outcome          string `json:"outcome"`
				Additional       struct {
					Certainty *float64 `json:"certainty"`
					Distance  *float64 `json:"distance"`
				} `json:"_additional"`
			} `json:"Get"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode weaviate response: %w", err)
	}
	if len(response.Errors) > 0 {
		return nil, fmt.Errorf("weaviate graphql error: %s", response.Errors[0].Message)
	}

	hits := response.Data.Get[r.class]
	results := make([]models.PlaybookEntry, 0, len(hits))
	for _, hit := range hits {
		results = append(results, models.PlaybookEntry{
			IncidentID:       hit.IncidentID,
			SummaryText:      hit.SummaryText,
			ResolutionAction: models.Action(strings.ToUpper(hit.ResolutionAction)),
			Outcome:          hit.Outcome,
			Score:            similarityScore(hit.Additional.Certainty, hit.Additional.Distance),
		})
	}

	if r.searchTTL > 0 && cacheKey != "" && len(results) > 0 {
		if payload, err := json.Marshal(results); err == nil {
			_ = r.cache.Set(ctx, cacheKey, payload, r.searchTTL)
		}
	}

	return results, nil
}

func (r *WeaviateRepo) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

func cacheSearchKey(class string, vector []float32, k int) string {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return fmt.Sprintf("weaviate:search:%s:%d:%016x", class, k, xxhash.Sum64(buf))
}

func formatVector(vector []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// similarityScore prefers certainty and falls back to cosine distance.
func similarityScore(certainty, distance *float64) float64 {
	if certainty != nil {
		return *certainty
	}
	if distance != nil {
		return 1 - *distance
	}
	return 0
}

func buildPlaybookProperties(entry models.PlaybookEntry) map[string]interface{} {
	return map[string]interface{}{
		"incidentId":       entry.IncidentID,
		"summaryText":      entry.SummaryText,
		"resolutionAction": string(entry.ResolutionAction),
		"outcome":          entry.Outcome,
	}
}
