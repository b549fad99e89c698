//go:build integration

package cache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dealerdesk/kb-engine/pkg/testhelpers"
)

func setupPostgresStoreTest(t *testing.T) (*PostgresStore, *pgxpool.Pool) {
	t.Helper()
	db := testhelpers.GetTestDB(t)
	testhelpers.TruncateKB(t, db.Pool)
	return NewPostgresStore(db.Pool, zap.NewNop()), db.Pool
}

func setupRedisStoreTest(t *testing.T) (*RedisStore, *redis.Client) {
	t.Helper()
	tr := testhelpers.GetTestRedis(t)
	if err := tr.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return NewRedisStore(tr.Client, zap.NewNop()), tr.Client
}

// ============================================================================
// PostgresStore Tests
// ============================================================================

func TestPostgresStore_RoundTrip(t *testing.T) {
	store, _ := setupPostgresStoreTest(t)
	ctx := context.Background()

	value := []byte(`{"action":"none","confidence":0.4}`)
	if err := store.Set(ctx, NamespaceDecision, "printer offline", value, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := store.Get(ctx, NamespaceDecision, "printer offline")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("expected %s, got %s", value, got)
	}

	_, hit, err = store.Get(ctx, NamespaceDecision, "different input")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected miss for unknown input")
	}
}

func TestPostgresStore_Set_OverwritesExisting(t *testing.T) {
	store, _ := setupPostgresStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "input", []byte(`"old"`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "input", []byte(`"new"`), time.Hour); err != nil {
		t.Fatalf("Set (overwrite) failed: %v", err)
	}

	got, hit, err := store.Get(ctx, NamespaceDecision, "input")
	if err != nil || !hit {
		t.Fatalf("Get failed: hit=%v err=%v", hit, err)
	}
	if string(got) != `"new"` {
		t.Errorf("expected overwritten value, got %s", got)
	}
}

func TestPostgresStore_ExpiredEntryPurgedOnGet(t *testing.T) {
	store, pool := setupPostgresStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceEmbedding, "stale", []byte(`[1,2]`), -time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	_, hit, err := store.Get(ctx, NamespaceEmbedding, "stale")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Fatal("expected expired entry to miss")
	}

	// The expired row is purged in place, not left behind
	var count int
	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM kb_llm_cache").Scan(&count); err != nil {
		t.Fatalf("failed to count cache rows: %v", err)
	}
	if count != 0 {
		t.Errorf("expected expired row purged, found %d rows", count)
	}
}

func TestPostgresStore_DeleteExpired(t *testing.T) {
	store, _ := setupPostgresStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "dead-1", []byte(`1`), -time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "dead-2", []byte(`2`), -time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "alive", []byte(`3`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := store.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 expired entries removed, got %d", removed)
	}

	_, hit, err := store.Get(ctx, NamespaceDecision, "alive")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Error("live entry must survive DeleteExpired")
	}
}

func TestPostgresStore_Stats(t *testing.T) {
	store, pool := setupPostgresStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "d1", []byte(`1`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "d2", []byte(`2`), -time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceEmbedding, "e1", []byte(`3`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Age one entry into the 1h-6h bucket
	_, err := pool.Exec(ctx,
		"UPDATE kb_llm_cache SET created_at = now() - interval '3 hours' WHERE cache_key = $1",
		Key(NamespaceEmbedding, "e1"))
	if err != nil {
		t.Fatalf("failed to age cache entry: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.Backend != "postgres" {
		t.Errorf("expected backend postgres, got %q", stats.Backend)
	}
	if stats.TotalEntries != 3 {
		t.Errorf("expected 3 entries, got %d", stats.TotalEntries)
	}
	if stats.Expired != 1 {
		t.Errorf("expected 1 expired entry, got %d", stats.Expired)
	}
	if stats.ByNamespace[NamespaceDecision] != 2 || stats.ByNamespace[NamespaceEmbedding] != 1 {
		t.Errorf("unexpected namespace counts: %v", stats.ByNamespace)
	}
	if stats.AgeBuckets.UnderHour != 2 {
		t.Errorf("expected 2 entries under an hour old, got %d", stats.AgeBuckets.UnderHour)
	}
	if stats.AgeBuckets.OneToSix != 1 {
		t.Errorf("expected 1 entry in the 1h-6h bucket, got %d", stats.AgeBuckets.OneToSix)
	}
}

func TestPostgresStore_Clear(t *testing.T) {
	store, _ := setupPostgresStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "a", []byte(`1`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceExpansion, "b", []byte(`2`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 entries cleared, got %d", removed)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("expected empty cache after Clear, got %d entries", stats.TotalEntries)
	}
}

// ============================================================================
// RedisStore Tests
// ============================================================================

func TestRedisStore_RoundTrip(t *testing.T) {
	store, _ := setupRedisStoreTest(t)
	ctx := context.Background()

	value := []byte(`{"expanded":["printer","offline"]}`)
	if err := store.Set(ctx, NamespaceExpansion, "printer offline", value, time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, hit, err := store.Get(ctx, NamespaceExpansion, "printer offline")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !hit {
		t.Fatal("expected cache hit")
	}
	if !bytes.Equal(got, value) {
		t.Errorf("envelope must be transparent to callers: expected %s, got %s", value, got)
	}

	_, hit, err = store.Get(ctx, NamespaceExpansion, "unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected miss for unknown input")
	}
}

func TestRedisStore_NativeExpiry(t *testing.T) {
	store, _ := setupRedisStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "short-lived", []byte(`1`), 50*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	_, hit, err := store.Get(ctx, NamespaceDecision, "short-lived")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if hit {
		t.Error("expected redis to expire the entry natively")
	}
}

func TestRedisStore_Clear_LeavesForeignKeysAlone(t *testing.T) {
	store, client := setupRedisStoreTest(t)
	ctx := context.Background()

	if err := client.Set(ctx, "other-app:session", "data", 0).Err(); err != nil {
		t.Fatalf("failed to plant foreign key: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "a", []byte(`1`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceEmbedding, "b", []byte(`2`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 prefixed keys cleared, got %d", removed)
	}

	exists, err := client.Exists(ctx, "other-app:session").Result()
	if err != nil {
		t.Fatalf("failed to check foreign key: %v", err)
	}
	if exists != 1 {
		t.Error("Clear must not touch keys outside the kbcache prefix")
	}
}

func TestRedisStore_Stats(t *testing.T) {
	store, client := setupRedisStoreTest(t)
	ctx := context.Background()

	if err := store.Set(ctx, NamespaceDecision, "d1", []byte(`1`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceDecision, "d2", []byte(`2`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Set(ctx, NamespaceEmbedding, "e1", []byte(`3`), time.Hour); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Plant an envelope created three hours ago for the age bucketing
	aged := `{"v":[4],"created_at":"` + time.Now().Add(-3*time.Hour).Format(time.RFC3339) + `"}`
	agedKey := redisKeyPrefix + NamespaceEmbedding + ":" + Key(NamespaceEmbedding, "e2")
	if err := client.Set(ctx, agedKey, aged, time.Hour).Err(); err != nil {
		t.Fatalf("failed to plant aged entry: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.Backend != "redis" {
		t.Errorf("expected backend redis, got %q", stats.Backend)
	}
	if stats.TotalEntries != 4 {
		t.Errorf("expected 4 entries, got %d", stats.TotalEntries)
	}
	if stats.ByNamespace[NamespaceDecision] != 2 || stats.ByNamespace[NamespaceEmbedding] != 2 {
		t.Errorf("unexpected namespace counts: %v", stats.ByNamespace)
	}
	if stats.AgeBuckets.UnderHour != 3 {
		t.Errorf("expected 3 fresh entries, got %d", stats.AgeBuckets.UnderHour)
	}
	if stats.AgeBuckets.OneToSix != 1 {
		t.Errorf("expected 1 aged entry, got %d", stats.AgeBuckets.OneToSix)
	}
}
