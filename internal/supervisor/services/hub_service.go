// Danmuhive - Danmaku Aggregation and Playback Compatibility Server
// Copyright 2026 Kotodama Lab
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kotodama-lab/danmuhive

package services

import (
	"context"
)

// Hub matches *websocket.Hub's context-driven run loop.
type Hub interface {
	RunWithContext(ctx context.Context) error
}

// HubService runs the websocket hub as a supervised service. The hub's
// RunWithContext already follows the Serve contract (block, return
// ctx.Err() after closing all clients), so the wrapper only
// contributes a stable name for suture's event logs.
//
//	tree.AddAPIService(services.NewHubService(hub))
type HubService struct {
	hub  Hub
	name string
}

// NewHubService wraps hub.
func NewHubService(hub Hub) *HubService {
	return &HubService{
		hub:  hub,
		name: "websocket-hub",
	}
}

// Serve implements suture.Service.
func (w *HubService) Serve(ctx context.Context) error {
	return w.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer; suture uses it in event logs.
func (w *HubService) String() string {
	return w.name
}
