package ws

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/narenallam/e-commerce-saga/internal/events"
	"github.com/narenallam/e-commerce-saga/pkg/logger"
)

func TestHubBroadcastsEventsToClients(t *testing.T) {
	hub := NewHub(logger.New("ws-test", io.Discard))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Wait for the registration to land before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(context.Background(), events.Event{
		Type:   events.TypeSagaCompleted,
		SagaID: "saga-1",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev events.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != events.TypeSagaCompleted || ev.SagaID != "saga-1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHubPublishNeverBlocksWithoutClients(t *testing.T) {
	hub := NewHub(logger.New("ws-test", io.Discard))

	// No Run goroutine: the buffered channel absorbs events, then drops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			hub.Publish(context.Background(), events.Event{Type: events.TypeStepCompleted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked saga execution")
	}
}
