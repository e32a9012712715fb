// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kotodama-lab/danmuhive/internal/models"
)

func TestRunWithContextStopsOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- hub.RunWithContext(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunWithContext() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after cancel")
	}
}

func TestBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 400; i++ {
		hub.BroadcastTaskUpdate(models.TaskHistory{TaskID: "t", Status: models.TaskStatusRunning})
	}
}

func dialTestHub(t *testing.T) (*Hub, *websocket.Conn, context.CancelFunc) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = hub.RunWithContext(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Serve(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	// The register channel is unbuffered, so once a read succeeds the
	// client is fully registered. Poll until the hub sees it.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return hub, conn, cancel
}

func TestBroadcastTaskUpdateReachesClient(t *testing.T) {
	hub, conn, cancel := dialTestHub(t)
	defer cancel()

	hub.BroadcastTaskUpdate(models.TaskHistory{
		TaskID:      "task-1",
		Title:       "导入: 葬送的芙莉莲",
		Status:      models.TaskStatusRunning,
		Progress:    40,
		Description: "开始执行",
	})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() failed: %v", err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if msg.Type != MessageTypeTaskUpdate {
		t.Errorf("message type = %q, want %q", msg.Type, MessageTypeTaskUpdate)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("message data = %T, want an object", msg.Data)
	}
	if data["task_id"] != "task-1" {
		t.Errorf("task_id = %v, want task-1", data["task_id"])
	}
	if data["progress"] != float64(40) {
		t.Errorf("progress = %v, want 40", data["progress"])
	}
}

func TestClientPingGetsPong(t *testing.T) {
	_, conn, cancel := dialTestHub(t)
	defer cancel()

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON() failed: %v", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() failed: %v", err)
	}
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() failed: %v", err)
	}
	if msg.Type != MessageTypePong {
		t.Errorf("message type = %q, want %q", msg.Type, MessageTypePong)
	}
}

func TestShutdownClosesClients(t *testing.T) {
	hub, conn, cancel := dialTestHub(t)

	cancel()

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline() failed: %v", err)
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count after shutdown = %d, want 0", hub.ClientCount())
	}
}
