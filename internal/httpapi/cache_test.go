package httpapi

import (
	"testing"
	"time"
)

func TestTTLCacheRoundTrip(t *testing.T) {
	c := newTTLCache(time.Minute)

	if _, ok := c.get("missing"); ok {
		t.Fatal("empty cache should miss")
	}

	c.set("a", themesResponse{RunID: "abc123def456"})
	got, ok := c.get("a")
	if !ok || got.RunID != "abc123def456" {
		t.Fatalf("cached value lost: %v %+v", ok, got)
	}
}

func TestTTLCacheExpires(t *testing.T) {
	c := newTTLCache(10 * time.Millisecond)
	c.set("a", themesResponse{RunID: "abc123def456"})

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.get("a"); ok {
		t.Fatal("entry should expire after the TTL")
	}
	if len(c.items) != 0 {
		t.Fatal("expired entry should be dropped on read")
	}
}
