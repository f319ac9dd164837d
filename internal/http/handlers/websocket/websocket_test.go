package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/princekumarofficial/channel-media-service/internal/http/middleware"
	"github.com/princekumarofficial/channel-media-service/internal/storage/memory"
	"github.com/princekumarofficial/channel-media-service/internal/types"
	"github.com/princekumarofficial/channel-media-service/internal/utils/jwt"
	wsClient "github.com/princekumarofficial/channel-media-service/internal/websocket"
)

func TestWebSocketFeed(t *testing.T) {
	store := memory.New()
	admin, err := store.CreateUser(context.Background(), "root", "hash", true)
	if err != nil {
		t.Fatalf("Failed to create admin: %v", err)
	}
	token, err := jwt.CreateToken(admin.ID, "ws_secret", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create token: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := wsClient.NewHub()
	go hub.Run(ctx)

	auth := middleware.NewAuthenticator(store, "ws_secret", "")
	srv := httptest.NewServer(WebSocketHandler(hub, auth))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected dial without token to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(types.NewMediaEvent(types.EventMediaApproved, types.MediaRecord{ID: 3, FileName: "a.pdf"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	var event types.Event
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.Type != types.EventMediaApproved {
		t.Fatalf("Expected %s, got %s", types.EventMediaApproved, event.Type)
	}
}
