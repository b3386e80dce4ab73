package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/dispatch"
)

func TestEventHubPublishesToSubscriber(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := hub.Subscribe(ctx, "")
	defer cleanup()

	hub.Publish(dispatch.BatchEvent{List: "software_vocabulary", Status: "generated", WordCount: 10})

	select {
	case received := <-stream:
		if received.Status != "generated" || received.WordCount != 10 {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestEventHubFiltersByList(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	softwareStream, cleanup := hub.Subscribe(ctx, "software_vocabulary")
	defer cleanup()
	generalStream, otherCleanup := hub.Subscribe(ctx, "general")
	defer otherCleanup()

	hub.Publish(dispatch.BatchEvent{List: "general", Status: "reused"})

	select {
	case <-softwareStream:
		t.Fatal("expected software subscriber to be isolated from general events")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case msg := <-generalStream:
		if msg.Status != "reused" {
			t.Fatalf("unexpected event %+v", msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected general subscriber to receive event")
	}
}

func TestEventHubUnsubscribesWhenContextEnds(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = hub.Subscribe(ctx, "")
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancellation")
		}
		time.Sleep(10 * time.Millisecond)
	}
	hub.Publish(dispatch.BatchEvent{List: "any"})
}

func TestEventHubDropsEventsForSlowSubscribers(t *testing.T) {
	hub := NewEventHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := hub.Subscribe(ctx, "")
	defer cleanup()

	for index := 0; index < defaultSubscriberSize*2; index++ {
		hub.Publish(dispatch.BatchEvent{List: "software", WordCount: index})
	}
	if len(stream) != defaultSubscriberSize {
		t.Fatalf("expected buffered events capped at %d, got %d", defaultSubscriberSize, len(stream))
	}
}

func TestEventsRouteStreamsBatchEvents(t *testing.T) {
	hub := NewEventHub()
	router := newTestRouter(t, Dependencies{Events: hub})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	request, err := http.NewRequest(http.MethodGet, server.URL+"/api/vocab/events?list=Software&access_token="+validToken, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = response.Body.Close()
	})
	if response.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", response.StatusCode)
	}
	if !strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", response.Header.Get("Content-Type"))
	}

	waitForSubscribers(t, hub, 1)
	hub.Publish(dispatch.BatchEvent{List: "general", Status: "reused"})
	hub.Publish(dispatch.BatchEvent{List: "software", Status: "generated", WordCount: 10})

	event, data := readEvent(t, bufio.NewReader(response.Body))
	if event != EventBatchDispatched {
		t.Fatalf("unexpected event type %q", event)
	}
	var payload dispatch.BatchEvent
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		t.Fatalf("failed to decode event payload: %v", err)
	}
	if payload.List != "software" || payload.Status != "generated" || payload.WordCount != 10 {
		t.Fatalf("unexpected event payload %+v", payload)
	}
}

func waitForSubscribers(t *testing.T, hub *EventHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, got %d", want, hub.SubscriberCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// readEvent returns the next non-heartbeat SSE event type and data line.
func readEvent(t *testing.T, reader *bufio.Reader) (string, string) {
	t.Helper()
	type readResult struct {
		line string
		err  error
	}
	deadline := time.After(5 * time.Second)
	currentEventType := ""
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for stream event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType == eventHeartbeat {
				continue
			}
			return currentEventType, strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}
