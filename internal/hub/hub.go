package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/observ"
	"github.com/lalith-99/stationchat/internal/protocol"
	"github.com/lalith-99/stationchat/internal/repository"
	"go.uber.org/zap"
)

// Reasons sent in operation_error / auth_error envelopes.
const (
	ReasonNotAuthenticated = "not authenticated"
	ReasonAuthFailed       = "authentication failed"
	ReasonInternal         = "internal error"
	ReasonMalformed        = "malformed envelope"
	ReasonEmpty            = "message is empty"
	ReasonTooLong          = "message is too long"
	ReasonNoHorns          = "not enough broadcast horns"
	ReasonTooFast          = "sending too fast"
	ReasonBadSubtype       = "unsupported message subtype"
	ReasonUnknownPeer      = "unknown recipient"
	ReasonUnknownSender    = "unknown sender"
	ReasonSelf             = "cannot message yourself"
)

// Options tunes a Hub. Zero values pick defaults.
type Options struct {
	// MaxMessageLength caps content length in runes. Default 500.
	MaxMessageLength int
	// Limiter throttles chat sends per user. nil disables flood control.
	Limiter repository.RateLimiter
	// Now is the clock for presence event timestamps. Default time.Now.
	Now func() time.Time
}

// Hub is the messaging core: it owns the Registry and Router and runs
// every inbound envelope through the handshake and messaging operations.
// It is shared by all connections; per-connection ordering comes from each
// connection's read loop calling Handle sequentially.
type Hub struct {
	registry  *Registry
	router    *Router
	validator auth.Validator
	messages  repository.MessageRepository
	presence  repository.PresenceRepository
	limiter   repository.RateLimiter
	maxLen    int
	now       func() time.Time
	logger    *zap.Logger
}

func New(
	validator auth.Validator,
	messages repository.MessageRepository,
	presence repository.PresenceRepository,
	logger *zap.Logger,
	opts Options,
) *Hub {
	if opts.MaxMessageLength <= 0 {
		opts.MaxMessageLength = 500
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	registry := NewRegistry()
	return &Hub{
		registry:  registry,
		router:    NewRouter(registry, logger),
		validator: validator,
		messages:  messages,
		presence:  presence,
		limiter:   opts.Limiter,
		maxLen:    opts.MaxMessageLength,
		now:       opts.Now,
		logger:    logger,
	}
}

// Registry exposes the live connection registry (read-only use).
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Router exposes the broadcast router, e.g. for server-initiated notices.
func (h *Hub) Router() *Router {
	return h.router
}

// Handle processes one raw inbound envelope from c. Every failure is turned
// into a reply envelope here; nothing propagates to the caller, and a panic
// is contained to this one envelope.
func (h *Hub) Handle(ctx context.Context, c *Client, raw []byte) {
	log := h.logger.With(zap.String("conn_id", c.ID().String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while handling envelope", zap.Any("panic", r), zap.Stack("stack"))
			h.router.Reply(c, protocol.OperationError(ReasonInternal))
		}
	}()

	in, err := protocol.DecodeInbound(raw)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownKind) {
			observ.EnvelopesReceived.WithLabelValues("unknown").Inc()
			log.Debug("ignoring envelope of unknown kind", zap.Error(err))
			return
		}
		observ.EnvelopesReceived.WithLabelValues("malformed").Inc()
		log.Debug("malformed envelope", zap.Error(err))
		h.fail(c, ReasonMalformed)
		return
	}
	observ.EnvelopesReceived.WithLabelValues(string(in.Kind())).Inc()

	switch in := in.(type) {
	case protocol.Auth:
		h.authenticate(ctx, c, in.Token, log)
		return
	case protocol.KeepalivePing:
		h.router.Reply(c, protocol.KeepalivePong())
		return
	}

	id, ok := c.Identity()
	if !ok {
		h.fail(c, ReasonNotAuthenticated)
		return
	}
	log = log.With(zap.String("user_id", id.UserID.String()))

	switch in := in.(type) {
	case protocol.RoomMessage:
		h.roomMessage(ctx, c, id, in, log)
	case protocol.BroadcastMessage:
		h.broadcastMessage(ctx, c, id, in, log)
	case protocol.DirectMessage:
		h.directMessage(ctx, c, id, in, log)
	case protocol.Typing:
		h.typing(id, in)
	default:
		panic(fmt.Sprintf("hub: unhandled inbound kind %s", in.Kind()))
	}
}

// authenticate is the handshake. A failure leaves c exactly as it was, so
// the client may retry on the same socket. A second auth on an
// authenticated socket re-runs registration.
func (h *Hub) authenticate(ctx context.Context, c *Client, token string, log *zap.Logger) {
	id, err := h.validator.Validate(token)
	if err != nil {
		observ.HandshakesTotal.WithLabelValues("error").Inc()
		log.Info("handshake rejected", zap.Error(err))
		h.router.Reply(c, protocol.AuthError(ReasonAuthFailed))
		return
	}

	replaced, released := h.registry.Register(c, id)
	if replaced != nil {
		log.Info("connection replaced an older one for the same user",
			zap.String("user_id", id.UserID.String()),
			zap.String("replaced_conn_id", replaced.ID().String()),
		)
	}
	if released != nil {
		h.release(ctx, c, *released, id, log)
	}
	h.markOnline(ctx, c, id, log)

	observ.HandshakesTotal.WithLabelValues("success").Inc()
	log.Info("handshake accepted",
		zap.String("user_id", id.UserID.String()),
		zap.String("branch_id", id.BranchID),
	)
	h.router.Reply(c, protocol.AuthSuccess(id.UserID))
	h.router.BroadcastToRoom(id.BranchID, protocol.PeerOnline(id.UserID, h.now()), id.UserID)
}

func (h *Hub) roomMessage(ctx context.Context, c *Client, id auth.Identity, in protocol.RoomMessage, log *zap.Logger) {
	if !h.admit(ctx, c, id, in.Content, log) {
		return
	}

	start := time.Now()
	msg, err := h.messages.AppendRoom(ctx, id.UserID, id.BranchID, in.Content)
	observ.PersistLatency.WithLabelValues("room").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, repository.ErrUnknownUser) {
			log.Warn("room message from a user with no profile row")
			h.fail(c, ReasonUnknownSender)
			return
		}
		log.Error("failed to persist room message", zap.Error(err))
		h.fail(c, ReasonInternal)
		return
	}

	// No exclusion: the sender gets its own message back as confirmation.
	h.router.BroadcastToRoom(id.BranchID, protocol.Chat(msg), uuid.Nil)
}

func (h *Hub) broadcastMessage(ctx context.Context, c *Client, id auth.Identity, in protocol.BroadcastMessage, log *zap.Logger) {
	if !h.admit(ctx, c, id, in.Content, log) {
		return
	}

	start := time.Now()
	msg, err := h.messages.AppendWorld(ctx, id.UserID, in.Content)
	observ.PersistLatency.WithLabelValues("global").Observe(time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientItems):
			h.fail(c, ReasonNoHorns)
			return
		case errors.Is(err, repository.ErrUnknownUser):
			log.Warn("world message from a user with no profile row")
			h.fail(c, ReasonUnknownSender)
			return
		}
		log.Error("failed to persist world message", zap.Error(err))
		h.fail(c, ReasonInternal)
		return
	}

	h.router.BroadcastToAll(protocol.Chat(msg))
}

func (h *Hub) directMessage(ctx context.Context, c *Client, id auth.Identity, in protocol.DirectMessage, log *zap.Logger) {
	if in.TargetIdentity == id.UserID {
		h.fail(c, ReasonSelf)
		return
	}
	subtype := in.Subtype
	if subtype == "" {
		subtype = models.SubtypeText
	}
	if !subtype.Valid() {
		h.fail(c, ReasonBadSubtype)
		return
	}
	if !h.admit(ctx, c, id, in.Content, log) {
		return
	}

	start := time.Now()
	msg, err := h.messages.AppendDirect(ctx, id.UserID, in.TargetIdentity, in.Content, subtype)
	observ.PersistLatency.WithLabelValues("direct").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, repository.ErrUnknownUser) {
			h.fail(c, ReasonUnknownPeer)
			return
		}
		log.Error("failed to persist direct message", zap.Error(err))
		h.fail(c, ReasonInternal)
		return
	}

	env := protocol.Chat(msg)
	h.router.Reply(c, env)
	// The receiver may have left while we were writing to the database;
	// then this is a no-op and the stored row is the delivery of record.
	h.router.DeliverDirect(in.TargetIdentity, env)
}

func (h *Hub) typing(id auth.Identity, in protocol.Typing) {
	if in.TargetIdentity == id.UserID {
		return
	}
	h.router.DeliverDirect(in.TargetIdentity, protocol.TypingFrom(id.UserID, in.IsTyping))
}

// admit runs the checks shared by every chat send: content shape, then
// flood control. On refusal it has already replied.
func (h *Hub) admit(ctx context.Context, c *Client, id auth.Identity, content string, log *zap.Logger) bool {
	if strings.TrimSpace(content) == "" {
		h.fail(c, ReasonEmpty)
		return false
	}
	if utf8.RuneCountInString(content) > h.maxLen {
		h.fail(c, ReasonTooLong)
		return false
	}
	if h.limiter == nil {
		return true
	}

	allowed, err := h.limiter.Allow(ctx, id.UserID)
	if err != nil {
		// Fail open: a Redis outage must not take chat down with it.
		log.Warn("rate limiter unavailable", zap.Error(err))
		return true
	}
	if !allowed {
		h.fail(c, ReasonTooFast)
		return false
	}
	return true
}

func (h *Hub) fail(c *Client, reason string) {
	observ.OperationErrors.WithLabelValues(reason).Inc()
	h.router.Reply(c, protocol.OperationError(reason))
}
