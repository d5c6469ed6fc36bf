package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/stationchat/internal/db"
	"github.com/lalith-99/stationchat/internal/models"
	"github.com/lalith-99/stationchat/internal/repository"
	"go.uber.org/zap/zaptest"
)

// These tests need a scratch database:
//
//	STATIONCHAT_TEST_DATABASE_URL=postgres://localhost:5432/stationchat_test?sslmode=disable
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("STATIONCHAT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STATIONCHAT_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := db.New(ctx, url, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(database.Close)
	if err := database.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.Pool()
}

// seedUser inserts a user in a branch unique to the test run and gives them
// horns broadcast items.
func seedUser(t *testing.T, pool *pgxpool.Pool, branch, nickname string, horns int) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, branch_id, branch_name, nickname, avatar)
		VALUES ($1, $2, $3, $4, '')`,
		id, branch, "Branch "+branch, nickname)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if horns > 0 {
		_, err = pool.Exec(ctx, `
			INSERT INTO user_items (user_id, item_id, count) VALUES ($1, $2, $3)`,
			id, repository.BroadcastItem, horns)
		if err != nil {
			t.Fatalf("seed items: %v", err)
		}
	}
	return id
}

func TestAppendRoomAndHistory(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewMessageStore(pool)
	branch := "br-" + uuid.NewString()
	alice := seedUser(t, pool, branch, "alice", 0)

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		msg, err := store.AppendRoom(ctx, alice, branch, text)
		if err != nil {
			t.Fatalf("append %q: %v", text, err)
		}
		if msg.SenderNickname != "alice" || msg.BranchID != branch {
			t.Errorf("display fields not copied: %+v", msg)
		}
		ids = append(ids, msg.ID)
	}

	page, err := store.ListBranch(ctx, branch, "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].Content != "three" || page[1].Content != "two" {
		t.Fatalf("first page = %+v", page)
	}

	older, err := store.ListBranch(ctx, branch, page[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 1 || older[0].ID != ids[0] {
		t.Errorf("older page = %+v", older)
	}

	if _, err := store.AppendRoom(ctx, uuid.New(), branch, "ghost"); !errors.Is(err, repository.ErrUnknownUser) {
		t.Errorf("unknown sender: err = %v", err)
	}
}

func TestAppendWorldSpendsOneHorn(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewMessageStore(pool)
	sender := seedUser(t, pool, "br-"+uuid.NewString(), "crier", 1)

	msg, err := store.AppendWorld(ctx, sender, "hear ye")
	if err != nil {
		t.Fatalf("first world message: %v", err)
	}
	if msg.BranchName == "" {
		t.Error("world message lost the sender's branch name")
	}

	if _, err := store.AppendWorld(ctx, sender, "again"); !errors.Is(err, repository.ErrInsufficientItems) {
		t.Fatalf("second world message: err = %v, want ErrInsufficientItems", err)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM world_messages WHERE sender_id = $1`, sender).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("world messages persisted = %d, want 1", count)
	}
}

func TestAppendWorldLastHornRace(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewMessageStore(pool)
	sender := seedUser(t, pool, "br-"+uuid.NewString(), "racer", 1)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.AppendWorld(ctx, sender, "mine"); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Errorf("%d sends took the last horn, want exactly 1", won)
	}
}

func TestAppendDirectLedger(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	messages := NewMessageStore(pool)
	conversations := NewConversationStore(pool)
	branch := "br-" + uuid.NewString()
	alice := seedUser(t, pool, branch, "alice", 0)
	bob := seedUser(t, pool, branch, "bob", 0)

	for _, text := range []string{"hi", "are you there"} {
		if _, err := messages.AppendDirect(ctx, alice, bob, text, models.SubtypeText); err != nil {
			t.Fatalf("append direct: %v", err)
		}
	}

	total, perPeer, err := conversations.Unread(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || perPeer[alice] != 2 {
		t.Errorf("bob unread = %d %v, want 2 from alice", total, perPeer)
	}

	rows, err := conversations.List(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].UnreadCount != 0 || rows[0].LastMessage != "are you there" || rows[0].PeerNickname != "bob" {
		t.Errorf("alice ledger = %+v", rows)
	}

	if err := conversations.MarkRead(ctx, bob, alice); err != nil {
		t.Fatal(err)
	}
	total, _, err = conversations.Unread(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("unread after mark read = %d", total)
	}

	history, err := messages.ListDirect(ctx, bob, alice, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || !history[0].Read {
		t.Errorf("history = %+v", history)
	}

	if _, err := messages.AppendDirect(ctx, alice, uuid.New(), "void", models.SubtypeText); !errors.Is(err, repository.ErrUnknownUser) {
		t.Errorf("unknown receiver: err = %v", err)
	}

	if err := conversations.Delete(ctx, alice, bob); err != nil {
		t.Fatal(err)
	}
	if rows, _ := conversations.List(ctx, alice); len(rows) != 0 {
		t.Errorf("ledger row survived delete: %+v", rows)
	}
}

func TestPresenceConnectionGuard(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewPresenceStore(pool)
	user := uuid.New()
	oldConn, newConn := uuid.New(), uuid.New()

	if err := store.SetOnline(ctx, user, oldConn); err != nil {
		t.Fatal(err)
	}
	if err := store.SetOnline(ctx, user, newConn); err != nil {
		t.Fatal(err)
	}

	applied, err := store.SetOffline(ctx, user, oldConn)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("stale connection marked the user offline")
	}

	got, err := store.GetMany(ctx, []uuid.UUID{user, uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[user].Online {
		t.Fatalf("presence = %+v", got)
	}

	before := time.Now().Add(-time.Minute)
	if applied, err = store.SetOffline(ctx, user, newConn); err != nil || !applied {
		t.Fatalf("current connection: applied=%v err=%v", applied, err)
	}
	got, _ = store.GetMany(ctx, []uuid.UUID{user})
	if got[user].Online || got[user].LastSeen.Before(before) {
		t.Errorf("after offline: %+v", got[user])
	}
}

func TestUserGetByID(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := NewUserStore(pool)
	id := seedUser(t, pool, "br-"+uuid.NewString(), "skipper", 0)

	user, err := store.GetByID(ctx, id)
	if err != nil || user == nil || user.Nickname != "skipper" {
		t.Fatalf("GetByID = %+v, %v", user, err)
	}

	user, err = store.GetByID(ctx, uuid.New())
	if err != nil || user != nil {
		t.Errorf("missing user = %+v, %v; want nil, nil", user, err)
	}
}
