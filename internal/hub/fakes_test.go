package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/stationchat/internal/auth"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/protocol"
	"github.com/lalith-99/stationchat/internal/repository"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap/zaptest"
)

// tokenValidator accepts exactly the tokens it was seeded with.
type tokenValidator map[string]auth.Identity

func (v tokenValidator) Validate(token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

// memStore is an in-memory MessageRepository that also keeps the
// conversation ledger and the broadcast item inventory.
type memStore struct {
	mu            sync.Mutex
	users         map[uuid.UUID]models.User
	items         map[uuid.UUID]int
	messages      []models.Message
	conversations map[[2]uuid.UUID]*models.Conversation
	failNext      error
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]models.User),
		items:         make(map[uuid.UUID]int),
		conversations: make(map[[2]uuid.UUID]*models.Conversation),
	}
}

func (s *memStore) addUser(u models.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *memStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *memStore) newMessage(scope models.Scope, sender models.User, content string) models.Message {
	return models.Message{
		ID:             ulid.Make().String(),
		Scope:          scope,
		BranchName:     sender.BranchName,
		SenderID:       sender.ID,
		SenderNickname: sender.Nickname,
		SenderAvatar:   sender.Avatar,
		Content:        content,
		CreatedAt:      time.Now(),
	}
}

func (s *memStore) AppendRoom(_ context.Context, senderID uuid.UUID, branchID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, repository.ErrUnknownUser
	}
	m := s.newMessage(models.ScopeBranch, sender, content)
	m.BranchID = branchID
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *memStore) AppendWorld(_ context.Context, senderID uuid.UUID, content string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	if s.items[senderID] <= 0 {
		return nil, repository.ErrInsufficientItems
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, repository.ErrUnknownUser
	}
	s.items[senderID]--
	m := s.newMessage(models.ScopeWorld, sender, content)
	m.BranchID = sender.BranchID
	s.messages = append(s.messages, m)
	return &m, nil
}

func (s *memStore) AppendDirect(_ context.Context, senderID, receiverID uuid.UUID, content string, subtype models.Subtype) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return nil, err
	}
	sender, ok := s.users[senderID]
	if !ok {
		return nil, repository.ErrUnknownUser
	}
	receiver, ok := s.users[receiverID]
	if !ok {
		return nil, repository.ErrUnknownUser
	}
	m := s.newMessage(models.ScopeDirect, sender, content)
	m.ReceiverID = &receiverID
	m.Subtype = subtype
	s.messages = append(s.messages, m)

	s.upsertConversation(sender.ID, receiver, m, false)
	s.upsertConversation(receiver.ID, sender, m, true)
	return &m, nil
}

func (s *memStore) upsertConversation(owner uuid.UUID, peer models.User, m models.Message, unread bool) {
	key := [2]uuid.UUID{owner, peer.ID}
	c, ok := s.conversations[key]
	if !ok {
		c = &models.Conversation{OwnerID: owner, PeerID: peer.ID}
		s.conversations[key] = c
	}
	c.PeerNickname = peer.Nickname
	c.PeerAvatar = peer.Avatar
	c.LastMessage = m.Content
	c.LastMessageType = m.Subtype
	c.LastMessageAt = m.CreatedAt
	if unread {
		c.UnreadCount++
	}
}

func (s *memStore) list(match func(models.Message) bool, before string, limit int) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if before != "" && m.ID >= before {
			continue
		}
		if match(m) {
			out = append(out, m)
		}
	}
	return out
}

func (s *memStore) ListBranch(_ context.Context, branchID, before string, limit int) ([]models.Message, error) {
	return s.list(func(m models.Message) bool {
		return m.Scope == models.ScopeBranch && m.BranchID == branchID
	}, before, limit), nil
}

func (s *memStore) ListWorld(_ context.Context, before string, limit int) ([]models.Message, error) {
	return s.list(func(m models.Message) bool { return m.Scope == models.ScopeWorld }, before, limit), nil
}

func (s *memStore) ListDirect(_ context.Context, userID, peerID uuid.UUID, before string, limit int) ([]models.Message, error) {
	return s.list(func(m models.Message) bool {
		if m.Scope != models.ScopeDirect || m.ReceiverID == nil {
			return false
		}
		return (m.SenderID == userID && *m.ReceiverID == peerID) ||
			(m.SenderID == peerID && *m.ReceiverID == userID)
	}, before, limit), nil
}

func (s *memStore) unread(owner, peer uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[[2]uuid.UUID{owner, peer}]; ok {
		return c.UnreadCount
	}
	return 0
}

// memPresence mirrors the connection-guarded presence table.
type memPresence struct {
	mu      sync.Mutex
	rows    map[uuid.UUID]models.Presence
	failAll error
}

func newMemPresence() *memPresence {
	return &memPresence{rows: make(map[uuid.UUID]models.Presence)}
}

func (p *memPresence) SetOnline(_ context.Context, userID, connID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll != nil {
		return p.failAll
	}
	p.rows[userID] = models.Presence{UserID: userID, Online: true, LastSeen: time.Now(), ConnectionID: &connID}
	return nil
}

func (p *memPresence) SetOffline(_ context.Context, userID, connID uuid.UUID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll != nil {
		return false, p.failAll
	}
	row, ok := p.rows[userID]
	if !ok || row.ConnectionID == nil || *row.ConnectionID != connID {
		return false, nil
	}
	row.Online = false
	row.LastSeen = time.Now()
	p.rows[userID] = row
	return true, nil
}

func (p *memPresence) GetMany(_ context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.Presence, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uuid.UUID]models.Presence, len(userIDs))
	for _, id := range userIDs {
		if row, ok := p.rows[id]; ok {
			out[id] = row
		}
	}
	return out, nil
}

func (p *memPresence) get(userID uuid.UUID) (models.Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	row, ok := p.rows[userID]
	return row, ok
}

// countingLimiter allows the first n sends per user.
type countingLimiter struct {
	mu   sync.Mutex
	n    int
	seen map[uuid.UUID]int
	err  error
}

func (l *countingLimiter) Allow(_ context.Context, userID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.seen == nil {
		l.seen = make(map[uuid.UUID]int)
	}
	l.seen[userID]++
	return l.seen[userID] <= l.n, nil
}

var errDBDown = errors.New("connection refused")

// fixture wires a Hub to in-memory collaborators.
type fixture struct {
	t        *testing.T
	hub      *Hub
	store    *memStore
	presence *memPresence
	tokens   tokenValidator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    newMemStore(),
		presence: newMemPresence(),
		tokens:   tokenValidator{},
	}
	f.hub = New(f.tokens, f.store, f.presence, zaptest.NewLogger(t), opts)
	return f
}

// user seeds a user in branch and returns its id and a valid token.
func (f *fixture) user(nickname, branch string) (uuid.UUID, string) {
	id := uuid.New()
	f.store.addUser(models.User{ID: id, BranchID: branch, BranchName: branch + " station", Nickname: nickname})
	token := "token-" + nickname
	f.tokens[token] = auth.Identity{UserID: id, BranchID: branch}
	return id, token
}

func (f *fixture) conn() *Client {
	return newClient(nil, 64)
}

func (f *fixture) send(c *Client, in protocol.Inbound) {
	f.t.Helper()
	raw, err := protocol.EncodeInbound(in)
	if err != nil {
		f.t.Fatalf("EncodeInbound: %v", err)
	}
	f.hub.Handle(context.Background(), c, raw)
}

// login authenticates c and consumes the auth_success reply.
func (f *fixture) login(c *Client, token string) {
	f.t.Helper()
	f.send(c, protocol.Auth{Token: token})
	env := f.next(c)
	if env.Kind != protocol.KindAuthSuccess {
		f.t.Fatalf("expected auth_success, got %s (%s)", env.Kind, env.Reason)
	}
}

// next pops the next queued envelope. Handle enqueues synchronously, so
// anything a test expects is already buffered.
func (f *fixture) next(c *Client) protocol.ServerEnvelope {
	f.t.Helper()
	select {
	case data, ok := <-c.send:
		if !ok {
			f.t.Fatal("send channel closed")
		}
		env, err := protocol.DecodeServer(data)
		if err != nil {
			f.t.Fatalf("DecodeServer: %v", err)
		}
		return env
	default:
		f.t.Fatal("expected an envelope, queue is empty")
	}
	return protocol.ServerEnvelope{}
}

func (f *fixture) drain(c *Client) []protocol.ServerEnvelope {
	var out []protocol.ServerEnvelope
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			env, err := protocol.DecodeServer(data)
			if err != nil {
				f.t.Fatalf("DecodeServer: %v", err)
			}
			out = append(out, env)
		default:
			return out
		}
	}
}

func (f *fixture) expectNone(c *Client) {
	f.t.Helper()
	if got := f.drain(c); len(got) != 0 {
		kinds := make([]string, len(got))
		for i, e := range got {
			kinds[i] = string(e.Kind)
		}
		sort.Strings(kinds)
		f.t.Fatalf("expected no envelopes, got %v", kinds)
	}
}
