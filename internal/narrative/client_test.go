package narrative

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

func sampleWords() []vocab.Entry {
	return []vocab.Entry{
		{Word: "ephemeral", Meaning: "lasting a short time"},
		{Word: "idempotent", Meaning: "unchanged when applied again"},
	}
}

func TestGenerateSendsPromptAndReturnsStory(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Once upon a time.  "}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	story, err := client.Generate(context.Background(), sampleWords(), CategorySoftware)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if story.Text != "Once upon a time." || story.Category != CategorySoftware {
		t.Fatalf("unexpected story %+v", story)
	}
	if captured.Model != "gpt-4o" || captured.MaxTokens != 300 || captured.Temperature != 0.7 {
		t.Fatalf("unexpected request defaults %+v", captured)
	}
	want := "Write a short software architecture story using the following vocabulary words: ephemeral, idempotent. Keep it under 150 words."
	if len(captured.Messages) != 1 || captured.Messages[0].Content != want {
		t.Fatalf("unexpected prompt %+v", captured.Messages)
	}
}

func TestGenerateRejectsUnknownCategory(t *testing.T) {
	client, err := NewClient(Config{APIKey: "k", BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Generate(context.Background(), sampleWords(), "poetry"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestGenerateReportsUpstreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Generate(context.Background(), sampleWords(), CategoryGeneral)
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request speechRequest
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &request)
		if r.URL.Path != "/audio/speech" || request.Voice != "nova" || request.Model != "tts-1" {
			t.Errorf("unexpected speech request %s %+v", r.URL.Path, request)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-audio"))
	}))
	defer server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	audio, err := client.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(audio) != "ID3-audio" {
		t.Fatalf("unexpected audio %q", audio)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{
		APIKey:  "k",
		BaseURL: server.URL,
		Breaker: &gobreaker.Settings{
			Name:    "openai-test",
			Timeout: time.Hour,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 2
			},
		},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		if _, err := client.Synthesize(context.Background(), "x"); err == nil {
			t.Fatalf("expected failure on attempt %d", attempt)
		}
	}
	if _, err := client.Synthesize(context.Background(), "x"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("open breaker should short-circuit, upstream saw %d calls", calls.Load())
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient(Config{}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestCombinedScript(t *testing.T) {
	script := CombinedScript(sampleWords(), []Story{
		{Category: CategoryGeneral, Text: "A general tale."},
		{Category: CategorySoftware, Text: ""},
	})
	want := "Here are today's vocabulary words and meanings:\n" +
		"ephemeral: lasting a short time\n" +
		"idempotent: unchanged when applied again\n" +
		"\n\nHere's a general story:\nA general tale."
	if script != want {
		t.Fatalf("unexpected script:\n%q\nwant\n%q", script, want)
	}
}

func TestStoryHeading(t *testing.T) {
	if got := (Story{Category: "software"}).Heading(); got != "Software Story" {
		t.Fatalf("unexpected heading %q", got)
	}
}
