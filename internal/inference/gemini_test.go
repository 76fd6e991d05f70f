package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		Header:     make(http.Header),
	}
}

func TestGenerateSendsStructuredOutputRequest(t *testing.T) {
	client := NewGeminiClient("https://gemini.test/v1beta/", "gemini-2.5-flash", "key-1", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/v1beta/models/gemini-2.5-flash:generateContent" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		if req.Header.Get("x-goog-api-key") != "key-1" {
			t.Fatalf("missing api key header")
		}
		var body generateRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.GenerationConfig.Temperature != 0.1 || body.GenerationConfig.MaxOutputTokens != 512 {
			t.Fatalf("unexpected generation config: %+v", body.GenerationConfig)
		}
		if body.GenerationConfig.ResponseMimeType != "application/json" || body.GenerationConfig.ResponseSchema["type"] != "OBJECT" {
			t.Fatalf("expected structured output config: %+v", body.GenerationConfig)
		}
		if body.Contents[0].Parts[0].Text != "assess" {
			t.Fatalf("unexpected prompt: %+v", body.Contents)
		}
		return response(http.StatusOK, `{"candidates":[{"content":{"parts":[{"text":"{\"status\":"},{"text":"\"HEALTHY\"}"}]}}]}`), nil
	})}

	got, err := client.Generate(context.Background(), Request{
		Prompt:      "assess",
		Schema:      map[string]any{"type": "OBJECT"},
		Temperature: 0.1,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"status":"HEALTHY"}` {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestGenerateSurfacesHTTPErrors(t *testing.T) {
	client := NewGeminiClient("https://gemini.test", "m", "", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusTooManyRequests, `{"error":"quota"}`), nil
	})}
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestGenerateEmptyCandidates(t *testing.T) {
	client := NewGeminiClient("https://gemini.test", "m", "", time.Second)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return response(http.StatusOK, `{"candidates":[]}`), nil
	})}
	if _, err := client.Generate(context.Background(), Request{Prompt: "x"}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestGenerateRequiresConfiguration(t *testing.T) {
	if _, err := NewGeminiClient("", "", "", 0).Generate(context.Background(), Request{}); err == nil {
		t.Fatalf("expected configuration error")
	}
}
