package ttlset

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemory_InsertIfAbsent(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory()
	m.Now = c.now

	ok, err := m.InsertIfAbsent(ctx, "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first insert = %v, %v", ok, err)
	}
	if ok, _ := m.InsertIfAbsent(ctx, "a", time.Minute); ok {
		t.Fatalf("second insert should be rejected")
	}
	if has, _ := m.Contains(ctx, "a"); !has {
		t.Fatalf("Contains(a) = false")
	}

	c.advance(time.Minute)
	if has, _ := m.Contains(ctx, "a"); has {
		t.Fatalf("entry should expire at its ttl")
	}
	if ok, _ := m.InsertIfAbsent(ctx, "a", time.Minute); !ok {
		t.Fatalf("insert after expiry should succeed")
	}

	if err := m.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if has, _ := m.Contains(ctx, "a"); has {
		t.Fatalf("deleted key still present")
	}
}

func TestMemory_PurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory()
	m.Now = c.now

	_, _ = m.InsertIfAbsent(ctx, "old", 0)
	c.advance(4 * time.Minute)
	_, _ = m.InsertIfAbsent(ctx, "young", 0)
	c.advance(2 * time.Minute)

	n, err := m.PurgeOlderThan(ctx, 5*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("PurgeOlderThan = %d, %v; want 1", n, err)
	}
	if has, _ := m.Contains(ctx, "old"); has {
		t.Fatalf("old entry survived purge")
	}
	if has, _ := m.Contains(ctx, "young"); !has {
		t.Fatalf("young entry was purged")
	}
	if m.Len() != 1 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMemory_ConcurrentInsertSingleWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.InsertIfAbsent(ctx, "interaction-1", time.Minute); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("winners = %d; want 1", wins)
	}
}

func TestMemory_ZeroValueUsable(t *testing.T) {
	var m Memory
	if ok, err := m.InsertIfAbsent(context.Background(), "k", time.Second); !ok || err != nil {
		t.Fatalf("zero value insert = %v, %v", ok, err)
	}
}

func TestNewRedis_Validation(t *testing.T) {
	if _, err := NewRedis(nil, "p:"); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := NewRedisClient(context.Background(), RedisOptions{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()
	if _, err := NewRedis(client, ""); err == nil {
		t.Fatalf("expected error for empty prefix")
	}
	set, err := NewRedis(client, "test:")
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	if _, err := set.InsertIfAbsent(context.Background(), "k", time.Second); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("unreachable server err = %v; want ErrUnavailable", err)
	}
	if n, err := set.PurgeOlderThan(context.Background(), time.Minute); n != 0 || err != nil {
		t.Fatalf("PurgeOlderThan = %d, %v", n, err)
	}
}
