package hostchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"
)

// openTestRedis connects to the server named by HOSTCHAIN_REDIS_ADDR and
// uses a key unique to the test. The test is skipped without a server.
func openTestRedis(t *testing.T) Store {
	t.Helper()
	addr := os.Getenv("HOSTCHAIN_REDIS_ADDR")
	if addr == "" {
		t.Skip("HOSTCHAIN_REDIS_ADDR not set")
	}
	key := fmt.Sprintf("hostchain:test:%s:%d", t.Name(), time.Now().UnixNano())
	st, err := OpenRedisStore(addr, key)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = st.Purge()
		_ = st.Close()
	})
	return st
}

func TestRedisStore_Contract(t *testing.T) {
	exerciseStore(t, openTestRedis(t))
}

func TestRedisStore_ConcurrentAdvance(t *testing.T) {
	st := openTestRedis(t)
	if err := st.Append(Record{Address: "h1", Seed: "T0", Stored: 2}); err != nil {
		t.Fatal(err)
	}

	const n = 5
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.Advance("h1"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	recs, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Stored != 2+n*StoredStep {
		t.Errorf("unexpected records %+v", recs)
	}
}

func TestRedisStore_SkipsMalformedFields(t *testing.T) {
	st := openTestRedis(t)
	rs := st.(*redisStore)

	ctx := context.Background()
	if err := rs.rdb.HSet(ctx, rs.key, "bad", "no-counter").Err(); err != nil {
		t.Fatal(err)
	}
	if err := st.Append(Record{Address: "good", Seed: "T0", Stored: 2}); err != nil {
		t.Fatal(err)
	}
	recs, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Address != "good" {
		t.Errorf("unexpected records %+v", recs)
	}
	if _, err := st.Advance("bad"); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("Expected ErrMalformedRecord, got %v", err)
	}
}

func TestOpenRedisStore_Unreachable(t *testing.T) {
	_, err := OpenRedisStore("127.0.0.1:1", "")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Errorf("Expected ErrStorageUnavailable, got %v", err)
	}
}

func TestRedisValue(t *testing.T) {
	r := Record{Address: "h1", Seed: "Mar 4, 2015 1:02:03 PM", Stored: 10}
	got, err := parseRedisValue(r.Address, redisValue(r))
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Errorf("got %+v, want %+v", got, r)
	}
	if _, err := parseRedisValue("h1", "seed"); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("Expected ErrMalformedRecord, got %v", err)
	}
}
