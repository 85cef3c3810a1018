package resolver

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shortkit/shortkit/pkg/shortkit/cache"
	"github.com/shortkit/shortkit/pkg/shortkit/models"
	"github.com/shortkit/shortkit/pkg/shortkit/shortcode"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeCacheClient is an in-memory cache.Client so tests can observe
// cache state without a running redis
type fakeCacheClient struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCacheClient() *fakeCacheClient {
	return &fakeCacheClient{data: make(map[string]string)}
}

func (f *fakeCacheClient) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	if !ok {
		return "", cache.ErrKeyNotFound
	}
	return val, nil
}

func (f *fakeCacheClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeCacheClient) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeCacheClient) Incr(ctx context.Context, key string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	if val, ok := f.data[key]; ok {
		n, _ = strconv.ParseInt(val, 10, 64)
	}
	n++
	f.data[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (f *fakeCacheClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return nil
}

func (f *fakeCacheClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return 0, nil
}

func (f *fakeCacheClient) get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	val, ok := f.data[key]
	return val, ok
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	// A single connection keeps the in-memory database shared and
	// serializes concurrent writes
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	models.AutoMigrate(db)
	return db
}

func newTestResolver(t *testing.T) (*Resolver, *fakeCacheClient, *gorm.DB) {
	db := setupTestDB(t)
	client := newFakeCacheClient()
	c := cache.New(client, zap.NewNop())
	gen := shortcode.New(db, 6)
	return New(db, c, gen, zap.NewNop()), client, db
}

func uintPtr(v uint) *uint {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func TestCreateThenResolve(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com/a", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(link.ShortCode) != 6 {
		t.Errorf("Expected 6-char generated code, got %q", link.ShortCode)
	}
	if link.ID == "" {
		t.Error("Expected a link ID to be assigned")
	}

	url, err := r.Resolve(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if url != "https://example.com/a" {
		t.Errorf("Expected https://example.com/a, got %s", url)
	}
}

func TestCreateInvalidURL(t *testing.T) {
	r, _, _ := newTestResolver(t)

	for _, bad := range []string{"", "notaurl", "ftp://example.com", "https://", "example.com"} {
		if _, err := r.Create(context.Background(), bad, nil, "", nil); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("Expected ErrInvalidURL for %q, got %v", bad, err)
		}
	}
}

func TestCreatePopulatesCache(t *testing.T) {
	r, client, _ := newTestResolver(t)

	link, err := r.Create(context.Background(), "https://example.com", nil, "mytest", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if cached, ok := client.get("link:" + link.ShortCode); !ok || cached != "https://example.com" {
		t.Errorf("Expected cache entry for new link, got %q (present=%v)", cached, ok)
	}
}

func TestResolveServedFromCache(t *testing.T) {
	r, client, _ := newTestResolver(t)

	// Entry present only in the cache: a hit must not touch the store
	client.data["link:cached1"] = "https://cached.example.com"

	url, err := r.Resolve(context.Background(), "cached1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if url != "https://cached.example.com" {
		t.Errorf("Expected cached URL, got %s", url)
	}
}

func TestResolveMissRefillsCache(t *testing.T) {
	r, client, db := newTestResolver(t)

	link := models.Link{ID: "id-1", OriginalURL: "https://example.com", ShortCode: "abc123", IsActive: true}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	url, err := r.Resolve(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if url != "https://example.com" {
		t.Errorf("Expected https://example.com, got %s", url)
	}

	// The refill is fire-and-forget
	deadline := time.Now().Add(time.Second)
	for {
		if cached, ok := client.get("link:abc123"); ok && cached == "https://example.com" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Expected cache refill after store hit")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolveNotFound(t *testing.T) {
	r, _, _ := newTestResolver(t)

	if _, err := r.Resolve(context.Background(), "nothere"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestResolveInactiveLink(t *testing.T) {
	r, _, db := newTestResolver(t)

	link := models.Link{ID: "id-1", OriginalURL: "https://example.com", ShortCode: "off123", IsActive: false}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	if _, err := r.Resolve(context.Background(), "off123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for inactive link, got %v", err)
	}
}

func TestExpiredLinkNotCachedAndNotFound(t *testing.T) {
	r, client, _ := newTestResolver(t)
	ctx := context.Background()

	expired := time.Now().Add(-24 * time.Hour)
	link, err := r.Create(ctx, "https://example.com", nil, "", &expired)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, ok := client.get("link:" + link.ShortCode); ok {
		t.Error("A link that is already expired must never be cached")
	}

	if _, err := r.Resolve(ctx, link.ShortCode); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired link, got %v", err)
	}
}

func TestDeleteThenResolveNotFound(t *testing.T) {
	r, client, _ := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := r.Delete(ctx, link.ShortCode, nil); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	// The cache entry is gone synchronously with the delete
	if _, ok := client.get("link:" + link.ShortCode); ok {
		t.Error("Expected cache entry removed by delete")
	}

	if _, err := r.Resolve(ctx, link.ShortCode); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestUpdateChangesResolutionImmediately(t *testing.T) {
	r, client, _ := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com/a", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if url, _ := r.Resolve(ctx, link.ShortCode); url != "https://example.com/a" {
		t.Fatalf("Expected original URL before update, got %s", url)
	}

	if _, err := r.Update(ctx, link.ShortCode, nil, strPtr("https://example.com/b"), nil); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// Immediately after update, the old destination must be gone from
	// both cache and resolution
	if cached, ok := client.get("link:" + link.ShortCode); ok && cached != "https://example.com/b" {
		t.Errorf("Expected cache repopulated with new URL, got %s", cached)
	}
	url, err := r.Resolve(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if url != "https://example.com/b" {
		t.Errorf("Expected https://example.com/b after update, got %s", url)
	}
}

func TestUpdateInvalidURLRejected(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := r.Update(ctx, link.ShortCode, nil, strPtr("notaurl"), nil); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("Expected ErrInvalidURL, got %v", err)
	}
}

func TestCustomAliasConflict(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "https://example.com/1", nil, "mytest", nil); err != nil {
		t.Fatalf("First create failed: %v", err)
	}

	if _, err := r.Create(ctx, "https://example.com/2", nil, "mytest", nil); !errors.Is(err, ErrAliasTaken) {
		t.Errorf("Expected ErrAliasTaken, got %v", err)
	}
}

func TestCustomAliasValidation(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "https://example.com", nil, "api", nil); !errors.Is(err, ErrInvalidAlias) {
		t.Errorf("Expected ErrInvalidAlias for reserved word, got %v", err)
	}
	if _, err := r.Create(ctx, "https://example.com", nil, "ab", nil); !errors.Is(err, ErrInvalidAlias) {
		t.Errorf("Expected ErrInvalidAlias for too-short alias, got %v", err)
	}
}

func TestAuthorizationMatrix(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	owned, err := r.Create(ctx, "https://example.com/owned", uintPtr(1), "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	anon, err := r.Create(ctx, "https://example.com/anon", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Owned link: only the owner may touch it
	if _, err := r.Update(ctx, owned.ShortCode, uintPtr(2), strPtr("https://example.com/x"), nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for other user's update, got %v", err)
	}
	if err := r.Delete(ctx, owned.ShortCode, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for anonymous delete of owned link, got %v", err)
	}
	if _, err := r.Update(ctx, owned.ShortCode, uintPtr(1), strPtr("https://example.com/x"), nil); err != nil {
		t.Errorf("Expected owner update to succeed, got %v", err)
	}

	// Anonymous link: only anonymous callers may touch it
	if _, err := r.Update(ctx, anon.ShortCode, uintPtr(1), strPtr("https://example.com/y"), nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for authenticated update of anonymous link, got %v", err)
	}
	if err := r.Delete(ctx, anon.ShortCode, uintPtr(1)); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for authenticated delete of anonymous link, got %v", err)
	}
	if _, err := r.Update(ctx, anon.ShortCode, nil, strPtr("https://example.com/y"), nil); err != nil {
		t.Errorf("Expected anonymous update of anonymous link to succeed, got %v", err)
	}
	if err := r.Delete(ctx, anon.ShortCode, nil); err != nil {
		t.Errorf("Expected anonymous delete of anonymous link to succeed, got %v", err)
	}
}

func TestRecordAccessConcurrent(t *testing.T) {
	r, client, db := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const n = 25
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.RecordAccess(link.ShortCode, "127.0.0.1")
		}()
	}
	wg.Wait()

	var updated models.Link
	if err := db.Where("short_code = ?", link.ShortCode).First(&updated).Error; err != nil {
		t.Fatalf("Failed to reload link: %v", err)
	}
	if updated.AccessCount != n {
		t.Errorf("Expected access count %d with no lost updates, got %d", n, updated.AccessCount)
	}
	if updated.LastAccessedAt == nil {
		t.Error("Expected last_accessed_at to be set")
	}

	if counter, _ := client.get("stats:" + link.ShortCode + ":count"); counter != strconv.Itoa(n) {
		t.Errorf("Expected cache counter %d, got %q", n, counter)
	}
}

func TestUpdateDoesNotLoseConcurrentAccessCounts(t *testing.T) {
	r, _, db := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com/a", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Interleave destination updates with access recording. An update
	// that wrote the whole row back would erase increments that landed
	// after it loaded the link.
	const n = 100
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			r.RecordAccess(link.ShortCode, "127.0.0.1")
		}()
		go func(i int) {
			defer wg.Done()
			url := "https://example.com/a"
			if i%2 == 1 {
				url = "https://example.com/b"
			}
			if _, err := r.Update(ctx, link.ShortCode, nil, strPtr(url), nil); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	var updated models.Link
	if err := db.Where("short_code = ?", link.ShortCode).First(&updated).Error; err != nil {
		t.Fatalf("Failed to reload link: %v", err)
	}
	if updated.AccessCount != n {
		t.Errorf("Expected access count %d with no lost updates, got %d", n, updated.AccessCount)
	}
}

func TestStatsSnapshotCached(t *testing.T) {
	r, _, db := newTestResolver(t)
	ctx := context.Background()

	link, err := r.Create(ctx, "https://example.com", nil, "", nil)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	r.RecordAccess(link.ShortCode, "127.0.0.1")

	stats, err := r.Stats(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.AccessCount != 1 {
		t.Errorf("Expected access count 1, got %d", stats.AccessCount)
	}
	if stats.OriginalURL != "https://example.com" {
		t.Errorf("Expected original URL in stats, got %s", stats.OriginalURL)
	}

	// The snapshot is served from cache: a store-level change does not
	// show up until the snapshot expires or is invalidated
	db.Model(&models.Link{}).Where("short_code = ?", link.ShortCode).
		Update("access_count", 99)

	again, err := r.Stats(ctx, link.ShortCode)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if again.AccessCount != 1 {
		t.Errorf("Expected cached snapshot count 1, got %d", again.AccessCount)
	}
}

func TestSearchByOriginalURL(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Create(ctx, "https://example.com/docs", uintPtr(1), "", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Create(ctx, "https://example.com/docs/two", nil, "", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := r.Create(ctx, "https://other.net", nil, "", nil); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	all, err := r.Search(ctx, "example.com/docs", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 matches, got %d", len(all))
	}

	mine, err := r.Search(ctx, "example.com/docs", uintPtr(1))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("Expected 1 match for owner filter, got %d", len(mine))
	}
}

func TestGetAppliesExpiryRules(t *testing.T) {
	r, _, db := newTestResolver(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	link := models.Link{ID: "id-1", OriginalURL: "https://example.com", ShortCode: "old123", ExpiresAt: &expired, IsActive: true}
	if err := db.Create(&link).Error; err != nil {
		t.Fatalf("Failed to create link: %v", err)
	}

	if _, err := r.Get(ctx, "old123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for expired link, got %v", err)
	}
}
