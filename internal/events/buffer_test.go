package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	b := New(10)

	first := b.Append(Entry{Kind: "status", Session: "s1"})
	second := b.Append(Entry{Kind: "status", Session: "s2"})

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.False(t, first.Timestamp.IsZero(), "timestamp is stamped when unset")
}

func TestOverflowKeepsNewestHundred(t *testing.T) {
	b := New(0)
	require.Equal(t, DefaultCapacity, b.Capacity())

	for i := 1; i <= 150; i++ {
		b.Append(Entry{Kind: "tick", Session: fmt.Sprintf("s%d", i)})
	}

	got := b.RecentN(100)
	require.Len(t, got, 100)
	assert.Equal(t, int64(51), got[0].ID, "oldest surviving entry is #51")
	assert.Equal(t, int64(150), got[99].ID)
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].ID+1, got[i].ID, "entries stay in append order")
	}
	assert.Equal(t, 100, b.Len())
}

func TestRecentNPartialAndEmpty(t *testing.T) {
	b := New(5)
	assert.Nil(t, b.RecentN(3))

	b.Append(Entry{Kind: "a"})
	b.Append(Entry{Kind: "b"})

	got := b.RecentN(10)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Kind)
	assert.Equal(t, "b", got[1].Kind)

	one := b.RecentN(1)
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].Kind)
}

func TestAllEqualsFullRecent(t *testing.T) {
	b := New(3)
	for i := 0; i < 7; i++ {
		b.Append(Entry{Kind: fmt.Sprintf("k%d", i)})
	}

	got := b.All()
	require.Len(t, got, 3)
	assert.Equal(t, "k4", got[0].Kind)
	assert.Equal(t, "k6", got[2].Kind)
}

func TestSubscribeReceivesAppends(t *testing.T) {
	b := New(10)
	ch, cancel := b.Subscribe()
	defer cancel()

	sent := b.Append(Entry{Kind: "done", Session: "s1"})

	select {
	case got := <-ch:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, "done", got.Kind)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the entry")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(10)
	_, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nothing drains the channel; appends beyond its buffer must
		// still return.
		for i := 0; i < subscriberBuffer*3; i++ {
			b.Append(Entry{Kind: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a slow subscriber")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New(10)
	ch, cancel := b.Subscribe()
	cancel()
	cancel() // double cancel is harmless

	b.Append(Entry{Kind: "late"})

	_, open := <-ch
	assert.False(t, open, "channel closes on cancel")
}
