package hub

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/protocol"
	"go.uber.org/zap"
)

// markOnline records the handshake in the presence table. A failed write
// is logged but does not fail the handshake: the live registry is already
// correct and the next transition overwrites the row.
func (h *Hub) markOnline(ctx context.Context, c *Client, id auth.Identity, log *zap.Logger) {
	if err := h.presence.SetOnline(ctx, id.UserID, c.ID()); err != nil {
		log.Error("failed to mark presence online", zap.Error(err))
	}
}

// Disconnect runs when c's transport is gone, for whatever reason.
//
// Only the user's current connection goes through the offline path. If
// the user has already reconnected on another socket, this stale close
// touches neither the registry nor presence, and nobody hears peer_offline.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	c.close()

	id, ok := c.Identity()
	if !ok {
		return
	}
	log := h.logger.With(
		zap.String("conn_id", c.ID().String()),
		zap.String("user_id", id.UserID.String()),
	)

	if !h.registry.Unregister(c) {
		log.Debug("superseded connection closed")
		return
	}
	h.goOffline(ctx, c, id, log)
}

// release ends the binding a second auth on the same socket took away. A
// different user goes through the full offline path; the same user moving
// branch only leaves the old room, since it stays online.
func (h *Hub) release(ctx context.Context, c *Client, prev, next auth.Identity, log *zap.Logger) {
	switch {
	case prev.UserID != next.UserID:
		h.goOffline(ctx, c, prev, log.With(zap.String("user_id", prev.UserID.String())))
	case prev.BranchID != next.BranchID:
		h.router.BroadcastToRoom(prev.BranchID, protocol.PeerOffline(prev.UserID, h.now()), uuid.Nil)
	}
}

// goOffline writes the offline row for id's binding on c and tells id's
// room. The caller has already taken id out of the registry.
func (h *Hub) goOffline(ctx context.Context, c *Client, id auth.Identity, log *zap.Logger) {
	applied, err := h.presence.SetOffline(ctx, id.UserID, c.ID())
	if err != nil {
		log.Error("failed to mark presence offline", zap.Error(err))
	} else if !applied {
		// Another process holds a newer connection for this user.
		log.Debug("presence owned by a newer connection; not announcing offline")
		return
	}

	log.Info("peer offline")
	// The departing connection is already out of the room, so nobody
	// needs excluding.
	h.router.BroadcastToRoom(id.BranchID, protocol.PeerOffline(id.UserID, h.now()), uuid.Nil)
}
