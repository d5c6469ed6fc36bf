package hub

import (
	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/observ"
	"github.com/lalith-99/stationchat/internal/protocol"
	"go.uber.org/zap"
)

// Router delivers envelopes to live connections. It never persists and
// never queues: a target that is not in the Registry at delivery time is
// simply skipped.
type Router struct {
	registry *Registry
	logger   *zap.Logger
}

func NewRouter(registry *Registry, logger *zap.Logger) *Router {
	return &Router{registry: registry, logger: logger}
}

// BroadcastToRoom delivers env to every member of branchID except exclude
// (uuid.Nil excludes nobody). Returns the number of sockets reached.
func (rt *Router) BroadcastToRoom(branchID string, env protocol.ServerEnvelope, exclude uuid.UUID) int {
	data, ok := rt.encode(env)
	if !ok {
		return 0
	}

	delivered := 0
	for _, m := range rt.registry.RoomMembers(branchID) {
		if exclude != uuid.Nil && m.userID == exclude {
			continue
		}
		if rt.deliver(m.client, data, "room") {
			delivered++
		}
	}
	return delivered
}

// BroadcastToAll delivers env to every registered connection.
func (rt *Router) BroadcastToAll(env protocol.ServerEnvelope) int {
	data, ok := rt.encode(env)
	if !ok {
		return 0
	}

	delivered := 0
	for _, c := range rt.registry.All() {
		if rt.deliver(c, data, "global") {
			delivered++
		}
	}
	return delivered
}

// DeliverDirect delivers env to target's live connection, if any.
func (rt *Router) DeliverDirect(target uuid.UUID, env protocol.ServerEnvelope) bool {
	c, ok := rt.registry.Lookup(target)
	if !ok {
		return false
	}
	data, ok := rt.encode(env)
	if !ok {
		return false
	}
	return rt.deliver(c, data, "direct")
}

// Reply writes env to one specific connection, registered or not.
func (rt *Router) Reply(c *Client, env protocol.ServerEnvelope) bool {
	data, ok := rt.encode(env)
	if !ok {
		return false
	}
	return rt.deliver(c, data, "reply")
}

func (rt *Router) encode(env protocol.ServerEnvelope) ([]byte, bool) {
	data, err := env.Encode()
	if err != nil {
		rt.logger.Error("failed to encode envelope",
			zap.String("kind", string(env.Kind)),
			zap.Error(err),
		)
		return nil, false
	}
	return data, true
}

func (rt *Router) deliver(c *Client, data []byte, scope string) bool {
	if !c.enqueue(data) {
		observ.Deliveries.WithLabelValues(scope, "dropped").Inc()
		rt.logger.Debug("envelope dropped",
			zap.String("conn_id", c.ID().String()),
			zap.String("scope", scope),
		)
		return false
	}
	observ.Deliveries.WithLabelValues(scope, "delivered").Inc()
	return true
}
