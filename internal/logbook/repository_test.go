package logbook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:logbook_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustRepo(t *testing.T, db *gorm.DB) *Repository {
	t.Helper()
	repo, err := NewRepository(db)
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	return repo
}

func TestPendingPreservesInsertionOrder(t *testing.T) {
	ctx := context.Background()
	repo := mustRepo(t, openTestDB(t))

	for _, text := range []string{"first", "second", "third"} {
		if err := repo.Insert(ctx, text); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	pending, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending entries, got %d", len(pending))
	}
	for i, want := range []string{"first", "second", "third"} {
		if pending[i].Text != want {
			t.Fatalf("entry %d out of order: got %q, want %q", i, pending[i].Text, want)
		}
	}
}

func TestMarkPostedMovesEntriesOutOfPending(t *testing.T) {
	ctx := context.Background()
	repo := mustRepo(t, openTestDB(t))

	for _, text := range []string{"first", "second"} {
		if err := repo.Insert(ctx, text); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	pending, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}

	postedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.MarkPosted(ctx, []int64{pending[0].ID}, 900, postedAt); err != nil {
		t.Fatalf("mark posted failed: %v", err)
	}

	remaining, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Text != "second" {
		t.Fatalf("expected only the second entry pending, got %+v", remaining)
	}

	posted, err := repo.Posted(ctx)
	if err != nil {
		t.Fatalf("posted failed: %v", err)
	}
	if len(posted) != 1 || *posted[0].PostedID != 900 {
		t.Fatalf("expected one posted entry with id 900, got %+v", posted)
	}

	count, err := repo.PendingCount(ctx)
	if err != nil {
		t.Fatalf("pending count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected pending count 1, got %d", count)
	}
}

func TestMarkPostedTwiceIsHarmless(t *testing.T) {
	ctx := context.Background()
	repo := mustRepo(t, openTestDB(t))

	for _, text := range []string{"first", "second"} {
		if err := repo.Insert(ctx, text); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	entries, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	ids := []int64{entries[0].ID, entries[1].ID}

	// A retried send stamps the same batch again, as the split path does for
	// its header half.
	postedAt := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.MarkPosted(ctx, ids, 900, postedAt); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}
	if err := repo.MarkPosted(ctx, ids, 901, postedAt); err != nil {
		t.Fatalf("second mark failed: %v", err)
	}

	remaining, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("re-marked entries must not reappear as pending, got %d", len(remaining))
	}
	posted, err := repo.Posted(ctx)
	if err != nil {
		t.Fatalf("posted failed: %v", err)
	}
	if len(posted) != 2 {
		t.Fatalf("expected both entries posted once, got %d", len(posted))
	}
	for _, entry := range posted {
		if *entry.PostedID != 901 {
			t.Fatalf("the later stamp must win, got %d", *entry.PostedID)
		}
	}
}

func TestRemovePostedNeverDeletesPending(t *testing.T) {
	ctx := context.Background()
	repo := mustRepo(t, openTestDB(t))

	for _, text := range []string{"posted", "pending"} {
		if err := repo.Insert(ctx, text); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}
	entries, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if err := repo.MarkPosted(ctx, []int64{entries[0].ID}, 900, time.Now().UTC()); err != nil {
		t.Fatalf("mark posted failed: %v", err)
	}

	// Both ids listed; only the posted one may go.
	if err := repo.RemovePosted(ctx, []int64{entries[0].ID, entries[1].ID}); err != nil {
		t.Fatalf("remove posted failed: %v", err)
	}

	remaining, err := repo.Pending(ctx)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Text != "pending" {
		t.Fatalf("pending entry must survive removal, got %+v", remaining)
	}
	posted, err := repo.Posted(ctx)
	if err != nil {
		t.Fatalf("posted failed: %v", err)
	}
	if len(posted) != 0 {
		t.Fatalf("posted entry should be removed, got %+v", posted)
	}
}
