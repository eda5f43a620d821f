package repo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-paywall-counter/internal/config"
	"github.com/tbourn/go-paywall-counter/internal/domain"
)

// opener opens a store rooted at dir. Calling it twice with the same dir must
// reach the same persisted state.
type opener func(t *testing.T, dir string) Store

func backends(t *testing.T) map[string]opener {
	t.Helper()
	out := map[string]opener{
		"json": func(t *testing.T, dir string) Store {
			s, err := OpenJSONFile(filepath.Join(dir, "urls.json"))
			if err != nil {
				t.Fatalf("OpenJSONFile: %v", err)
			}
			return s
		},
		"sqlite": func(t *testing.T, dir string) Store {
			s, err := Open(context.Background(), config.StoreConfig{
				Driver: config.StoreSQLite,
				DBPath: filepath.Join(dir, "payments.db"),
			})
			if err != nil {
				t.Fatalf("open sqlite store: %v", err)
			}
			return s
		},
		"bolt": func(t *testing.T, dir string) Store {
			s, err := OpenBolt(filepath.Join(dir, "payments.bolt"))
			if err != nil {
				t.Fatalf("OpenBolt: %v", err)
			}
			return s
		},
	}

	// Redis runs only against a real server.
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		prefix := "paywall-test-" + uuid.NewString()
		out["redis"] = func(t *testing.T, _ string) Store {
			s, err := OpenRedis(context.Background(), config.RedisConfig{Addr: addr, KeyPrefix: prefix})
			if err != nil {
				t.Fatalf("OpenRedis: %v", err)
			}
			return s
		}
		t.Cleanup(func() {
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			defer rdb.Close()
			rdb.Del(context.Background(), prefix+":payments", prefix+":payments:index")
		})
	}
	return out
}

func rec(i int) domain.PaymentRecord {
	return domain.NewPaymentRecord(
		fmt.Sprintf("%064x", i+1),
		time.Date(2025, 1, 1, 0, 0, i, 0, time.UTC),
	)
}

func TestStore_EmptyState(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, t.TempDir())
			defer s.Close()

			if n, err := s.Count(ctx); err != nil || n != 0 {
				t.Fatalf("Count = %d, %v; want 0", n, err)
			}
			all, err := s.All(ctx)
			if err != nil || all == nil || len(all) != 0 {
				t.Fatalf("All = %#v, %v; want empty non-nil", all, err)
			}
			if _, err := s.Find(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Find missing err = %v; want ErrNotFound", err)
			}
			if _, err := s.MarkVisited(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("MarkVisited missing err = %v; want ErrNotFound", err)
			}
		})
	}
}

func TestStore_AppendFindAllOrder(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, t.TempDir())
			defer s.Close()

			const n = 5
			for i := 0; i < n; i++ {
				if err := s.Append(ctx, rec(i)); err != nil {
					t.Fatalf("Append %d: %v", i, err)
				}
			}
			if got, _ := s.Count(ctx); got != n {
				t.Fatalf("Count = %d; want %d", got, n)
			}
			all, err := s.All(ctx)
			if err != nil {
				t.Fatalf("All: %v", err)
			}
			for i := range all {
				if all[i] != rec(i) {
					t.Fatalf("All[%d] = %+v; want %+v", i, all[i], rec(i))
				}
			}
			got, err := s.Find(ctx, rec(3).ID)
			if err != nil || got != rec(3) {
				t.Fatalf("Find = %+v, %v; want %+v", got, err, rec(3))
			}
		})
	}
}

func TestStore_MarkVisitedFlipsOnce(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, t.TempDir())
			defer s.Close()

			r := rec(0)
			if err := s.Append(ctx, r); err != nil {
				t.Fatalf("Append: %v", err)
			}

			flipped, err := s.MarkVisited(ctx, r.ID)
			if err != nil || !flipped {
				t.Fatalf("first MarkVisited = %v, %v; want true", flipped, err)
			}
			for i := 0; i < 3; i++ {
				flipped, err = s.MarkVisited(ctx, r.ID)
				if err != nil || flipped {
					t.Fatalf("repeat MarkVisited = %v, %v; want false", flipped, err)
				}
			}

			got, _ := s.Find(ctx, r.ID)
			if got.FirstVisit {
				t.Fatalf("record still marked as first visit: %+v", got)
			}
			if !got.Valid || got.Timestamp != r.Timestamp {
				t.Fatalf("other fields changed: %+v", got)
			}
		})
	}
}

func TestStore_ReopenRoundTrip(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := open(t, dir)
			for i := 0; i < 4; i++ {
				if err := s.Append(ctx, rec(i)); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			if _, err := s.MarkVisited(ctx, rec(1).ID); err != nil {
				t.Fatalf("MarkVisited: %v", err)
			}
			before, _ := s.All(ctx)
			if err := s.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			s2 := open(t, dir)
			defer s2.Close()
			after, err := s2.All(ctx)
			if err != nil {
				t.Fatalf("All after reopen: %v", err)
			}
			if len(after) != len(before) {
				t.Fatalf("reopened %d records; want %d", len(after), len(before))
			}
			for i := range before {
				if after[i] != before[i] {
					t.Fatalf("record %d changed across restart: %+v vs %+v", i, after[i], before[i])
				}
			}
		})
	}
}

func TestStore_ConcurrentMutations(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t, t.TempDir())
			defer s.Close()

			const writers = 20
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if err := s.Append(ctx, rec(i)); err != nil {
						t.Errorf("Append %d: %v", i, err)
					}
				}(i)
			}
			wg.Wait()
			if n, _ := s.Count(ctx); n != writers {
				t.Fatalf("Count = %d; want %d", n, writers)
			}

			// Many racing first views: exactly one wins the flip.
			var (
				mu   sync.Mutex
				wins int
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.MarkVisited(ctx, rec(7).ID)
					if err != nil {
						t.Errorf("MarkVisited: %v", err)
						return
					}
					if ok {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			if wins != 1 {
				t.Fatalf("MarkVisited won %d times; want exactly 1", wins)
			}
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.StoreConfig{Driver: "mongo"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestOpen_CreatesDataDirForFileDrivers(t *testing.T) {
	base := t.TempDir()
	cases := []config.StoreConfig{
		{Driver: config.StoreJSON, DataPath: filepath.Join(base, "j", "urls.json")},
		{Driver: config.StoreBolt, BoltPath: filepath.Join(base, "b", "payments.bolt")},
		{Driver: config.StoreSQLite, DBPath: filepath.Join(base, "s", "payments.db")},
	}
	for _, cfg := range cases {
		s, err := Open(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Open(%s): %v", cfg.Driver, err)
		}
		_ = s.Close()
	}
	for _, d := range []string{"j", "b", "s"} {
		if fi, err := os.Stat(filepath.Join(base, d)); err != nil || !fi.IsDir() {
			t.Fatalf("expected data dir %q to exist: %v", d, err)
		}
	}
}
