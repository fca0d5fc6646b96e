package pipeline_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onairlab/segue"
	"github.com/onairlab/segue/pipeline"
)

func TestRetrievalClientDecodesChunks(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/retrieve" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Show string `json:"show"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Error(err)
		}
		if req.Show != "morning-news" {
			t.Errorf("show = %q", req.Show)
		}
		json.NewEncoder(w).Encode(map[string][]string{
			"chunks": {"headline one", "headline two"},
		})
	}))
	defer srv.Close()

	c := pipeline.NewHTTPRetrieval(srv.URL, time.Second)
	chunks, err := c.Retrieve(context.Background(), "morning-news", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 || chunks[0] != "headline one" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestClientStatusClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantPermanent bool
	}{
		{"bad request is permanent", http.StatusBadRequest, true},
		{"not found is permanent", http.StatusNotFound, true},
		{"unprocessable is permanent", http.StatusUnprocessableEntity, true},
		{"request timeout is retryable", http.StatusRequestTimeout, false},
		{"too many requests is retryable", http.StatusTooManyRequests, false},
		{"server error is retryable", http.StatusInternalServerError, false},
		{"bad gateway is retryable", http.StatusBadGateway, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "stage service unhappy", tt.status)
			}))
			defer srv.Close()

			c := pipeline.NewHTTPScript(srv.URL, time.Second)
			_, err := c.WriteScript(context.Background(), "show", "", []string{"chunk"})
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := segue.IsPermanent(err); got != tt.wantPermanent {
				t.Fatalf("IsPermanent = %v, want %v (err: %v)", got, tt.wantPermanent, err)
			}
		})
	}
}

func TestClientConnectionErrorIsRetryable(t *testing.T) {
	t.Parallel()

	// A server that is already gone: connection refused must be
	// classified transient, not permanent.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := pipeline.NewHTTPLoudness(url, time.Second)
	_, err := c.Normalize(context.Background(), "/audio/seg.wav", -16.0)
	if err == nil {
		t.Fatal("expected an error")
	}
	if segue.IsPermanent(err) {
		t.Fatalf("connection error classified permanent: %v", err)
	}
}

func TestSpeechClientSynthesizeAndModels(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/synthesize":
			var req struct {
				Text  string  `json:"text"`
				Model string  `json:"model"`
				Speed float64 `json:"speed"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Error(err)
			}
			if req.Model != "en_US-lessac-medium" || req.Speed != 1.0 {
				t.Errorf("request = %+v", req)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"audio":        "52494646",
				"duration_sec": 42.5,
				"cached":       true,
			})
		case "/models":
			json.NewEncoder(w).Encode(map[string][]string{
				"models": {"en_US-lessac-medium", "en_GB-alba-medium"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := pipeline.NewHTTPSpeech(srv.URL, time.Second)
	res, err := c.Synthesize(context.Background(), "Good morning.", "en_US-lessac-medium", 1.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Audio != "52494646" || res.DurationSec != 42.5 || !res.Cached {
		t.Fatalf("result = %+v", res)
	}

	models, err := c.Models(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 {
		t.Fatalf("models = %v", models)
	}
}
