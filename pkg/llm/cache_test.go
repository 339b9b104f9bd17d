package llm

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func msgs(contents ...string) []Message {
	out := make([]Message, len(contents))
	for i, c := range contents {
		out[i] = Message{Role: RoleUser, Content: c}
	}
	return out
}

func resp(text string) ChatResponse {
	return ChatResponse{Message: Message{Role: RoleAssistant, Content: text}}
}

func TestKey_SensitiveToContentAndOrder(t *testing.T) {
	is := is.New(t)

	is.Equal(Key(msgs("a", "b")), Key(msgs("a", "b")))  // identical sequences share a key
	is.True(Key(msgs("a", "b")) != Key(msgs("b", "a"))) // order matters
	is.True(Key(msgs("a")) != Key(msgs("a", "")))       // length matters

	// Role changes the key even with identical content.
	a := []Message{{Role: RoleUser, Content: "x"}}
	b := []Message{{Role: RoleSystem, Content: "x"}}
	is.True(Key(a) != Key(b))
}

func TestCache_HitAndMiss(t *testing.T) {
	is := is.New(t)

	c := NewResponseCache(CacheConfig{})
	key := Key(msgs("when do you open"))

	_, ok := c.Get(key)
	is.True(!ok) // cold cache misses

	c.Put(key, resp("at nine"))
	got, ok := c.Get(key)
	is.True(ok)
	is.Equal(got.Message.Content, "at nine")
}

func TestCache_ExpiredEntryMisses(t *testing.T) {
	is := is.New(t)

	c := NewResponseCache(CacheConfig{TTL: 10 * time.Millisecond})
	key := Key(msgs("q"))
	c.Put(key, resp("a"))

	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get(key)
	is.True(!ok) // expired entries are not served
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	is := is.New(t)

	c := NewResponseCache(CacheConfig{MaxEntries: 2})
	c.Put(Key(msgs("one")), resp("1"))
	time.Sleep(2 * time.Millisecond)
	c.Put(Key(msgs("two")), resp("2"))
	time.Sleep(2 * time.Millisecond)
	c.Put(Key(msgs("three")), resp("3"))

	is.Equal(c.Len(), 2)

	_, ok := c.Get(Key(msgs("one")))
	is.True(!ok) // oldest entry evicted first

	_, ok = c.Get(Key(msgs("three")))
	is.True(ok)
}

func TestCache_SweepRemovesExpired(t *testing.T) {
	is := is.New(t)

	c := NewResponseCache(CacheConfig{
		TTL:           10 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	})
	c.Start()
	defer c.Stop()

	c.Put(Key(msgs("q")), resp("a"))
	is.Equal(c.Len(), 1)

	deadline := time.Now().Add(time.Second)
	for c.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	is.Equal(c.Len(), 0) // sweeper reclaims expired entries
}
