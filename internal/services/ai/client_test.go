package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"glossa/internal/taxonomy"
)

func TestClientHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"ok":true}`,
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestClientClassifyWordCodeFence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": "```json\n{\"n1\":\"SH\",\"n2\":\"PE\",\"confidence\":0.82,\"rationale\":\"demo\"}\n```",
					},
				},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	classification, err := client.ClassifyWord(context.Background(), Request{Word: "gaucho"})
	if err != nil {
		t.Fatalf("ClassifyWord returned error: %v", err)
	}
	if classification.N1 != "SH" || classification.N2 != "PE" {
		t.Fatalf("unexpected codes %q/%q", classification.N1, classification.N2)
	}
	if classification.Confidence != 0.82 {
		t.Fatalf("expected confidence 0.82, got %v", classification.Confidence)
	}
	if classification.Raw == "" || !strings.Contains(classification.Raw, "```") {
		t.Fatalf("expected raw payload to retain code fence, got %q", classification.Raw)
	}
}

func TestClientClassifyWordUppercasesCodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"n1":"sh","n2":" cl ","confidence":0.7}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	classification, err := client.ClassifyWord(context.Background(), Request{Word: "bagual"})
	if err != nil {
		t.Fatalf("ClassifyWord returned error: %v", err)
	}
	if classification.N1 != "SH" || classification.N2 != "CL" {
		t.Fatalf("expected normalized codes, got %q/%q", classification.N1, classification.N2)
	}
}

func TestClientClassifyWordMissingN1(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"n2":"PE","confidence":0.5}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if _, err := client.ClassifyWord(context.Background(), Request{Word: "xirú"}); err == nil {
		t.Fatal("expected error for response without n1")
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"n1":"SH","confidence":0.9,"rationale":"demo"}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	classification, err := client.ClassifyWord(context.Background(), Request{Word: "tchê"})
	if err != nil {
		t.Fatalf("ClassifyWord returned error: %v", err)
	}
	if classification.N1 != "SH" {
		t.Fatalf("expected N1 SH, got %q", classification.N1)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientExhausted429BecomesOverload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}),
		WithRetryMaxAttempts(2),
	)
	_, err := client.ClassifyWord(context.Background(), Request{Word: "mate"})
	if err == nil {
		t.Fatal("expected classify to fail")
	}
	overload, ok := AsOverload(err)
	if !ok {
		t.Fatalf("expected OverloadError, got %v", err)
	}
	if overload.RetryAfter != 7*time.Second {
		t.Fatalf("expected retry-after 7s, got %s", overload.RetryAfter)
	}
}

func TestClientSecondaryModelSelection(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotModel = body.Model
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{
						"content": `{"n1":"SH","confidence":0.6}`,
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:         "test",
		BaseURL:        server.URL,
		Model:          "primary",
		SecondaryModel: "secondary",
	})
	if _, err := client.ClassifyWord(context.Background(), Request{Word: "pingo", Secondary: true}); err != nil {
		t.Fatalf("ClassifyWord returned error: %v", err)
	}
	if gotModel != "secondary" {
		t.Fatalf("expected secondary model, got %q", gotModel)
	}
}

func TestBuildUserPromptKnownN1(t *testing.T) {
	prompt := buildUserPrompt(Request{Word: "gaita", KnownN1: taxonomy.Code("MU")})
	if !strings.Contains(prompt, "MU") {
		t.Fatalf("expected prompt to mention known category, got %q", prompt)
	}
}

func TestDecodeModelJSONLeadingProse(t *testing.T) {
	var parsed Classification
	content := "Here is the classification:\n{\"n1\":\"FO\",\"confidence\":0.8}"
	if err := DecodeModelJSON(content, &parsed); err != nil {
		t.Fatalf("DecodeModelJSON returned error: %v", err)
	}
	if parsed.N1 != "FO" {
		t.Fatalf("expected N1 FO, got %q", parsed.N1)
	}
}
