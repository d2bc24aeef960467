package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var testUpgrader = websocket.Upgrader{}

func TestWSChannelSendAndReceive(t *testing.T) {
	var gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ch := NewWSChannel(wsURL, "test-key", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close(websocket.CloseNormalClosure, "test done")

	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}

	if err := ch.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-ch.Messages():
		if string(msg) != "echo:hello" {
			t.Fatalf("unexpected message: %s", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWSChannelClosedSignalsOnServerHangup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ch := NewWSChannel(wsURL, "k", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ch.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case err := <-ch.Closed():
		if err == nil {
			t.Fatal("expected a non-nil close reason for an abrupt server hangup")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Closed() signal")
	}
}
