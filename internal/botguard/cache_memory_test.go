package botguard

import (
	"strconv"
	"testing"
	"time"
)

func TestMemoryCacheHitAndMiss(t *testing.T) {
	c := NewMemoryCache()
	key := KeyFromInput(Input{UserAgent: "ua", ClientName: "ANDROID", ClientVersion: "20.10.38"})

	if _, ok := c.Get(key); ok {
		t.Fatal("Get on empty cache = hit, want miss")
	}
	c.Set(key, Output{Token: "tok", ExpiresAt: time.Now().Add(time.Minute)})
	got, ok := c.Get(key)
	if !ok || got.Token != "tok" {
		t.Fatalf("Get = %+v, %v; want tok, true", got, ok)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.nowFunc = func() time.Time { return now }

	c.Set("a", Output{Token: "a", ExpiresAt: now.Add(time.Second)})
	c.Set("forever", Output{Token: "f"})

	now = now.Add(2 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("expired token returned")
	}
	if _, ok := c.Get("forever"); !ok {
		t.Error("token without expiry missing")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after expired read", c.Len())
	}
}

func TestMemoryCacheEvictsSoonestExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.nowFunc = func() time.Time { return now }
	c.limit = 3

	c.Set("late", Output{Token: "late", ExpiresAt: now.Add(time.Hour)})
	c.Set("soon", Output{Token: "soon", ExpiresAt: now.Add(time.Minute)})
	c.Set("none", Output{Token: "none"})
	c.Set("new", Output{Token: "new", ExpiresAt: now.Add(30 * time.Minute)})

	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("soon"); ok {
		t.Error("soonest expiring token kept")
	}
	for _, k := range []string{"late", "none", "new"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("token %q evicted", k)
		}
	}

	// Overwriting an existing key never evicts.
	c.Set("late", Output{Token: "late2", ExpiresAt: now.Add(time.Hour)})
	if c.Len() != 3 {
		t.Errorf("Len = %d after overwrite, want 3", c.Len())
	}
}

func TestMemoryCacheSetPrunesExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.nowFunc = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		c.Set("k"+strconv.Itoa(i), Output{Token: "t", ExpiresAt: now.Add(time.Second)})
	}
	now = now.Add(time.Minute)
	c.Set("fresh", Output{Token: "fresh"})
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}
