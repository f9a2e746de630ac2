package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gagentflow/gagent"
)

func envelope(payload any) gagent.EventEnvelope {
	return gagent.NewEnvelope(gagent.NewAgentId(), payload, gagent.Down, "")
}

func TestProduceSubscribeDeliversInOrder(t *testing.T) {
	s := New(Config{Capacity: 10, ProduceDeadline: time.Second})
	defer s.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	sub := s.Subscribe(func(env gagent.EventEnvelope) {
		mu.Lock()
		got = append(got, env.Payload.(int))
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
	}, nil)
	defer sub.Dispose()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		dropped := s.Produce(ctx, envelope(i))
		require.False(t, dropped)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestProduceDropsWhenFullPastDeadline(t *testing.T) {
	s := New(Config{Capacity: 1, ProduceDeadline: 20 * time.Millisecond})
	defer s.Close()

	// A subscriber that never returns stops the fan-out loop from draining the
	// buffer; without one the loop empties it at once and nothing is dropped.
	release := make(chan struct{})
	defer close(release)
	sub := s.Subscribe(func(gagent.EventEnvelope) { <-release }, nil)
	defer sub.Dispose()

	ctx := context.Background()
	require.False(t, s.Produce(ctx, envelope(1)))
	dropped := false
	for i := 2; i <= 10 && !dropped; i++ {
		dropped = s.Produce(ctx, envelope(i))
	}
	require.True(t, dropped)
	require.EqualValues(t, 1, s.Dropped())
}

func TestFilterExcludesNonMatching(t *testing.T) {
	s := New(Config{Capacity: 10, ProduceDeadline: time.Second})
	defer s.Close()

	var mu sync.Mutex
	var got []int
	sub := s.Subscribe(func(env gagent.EventEnvelope) {
		mu.Lock()
		got = append(got, env.Payload.(int))
		mu.Unlock()
	}, func(env gagent.EventEnvelope) bool {
		return env.Payload.(int)%2 == 0
	})
	defer sub.Dispose()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.Produce(ctx, envelope(i))
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{0, 2}, got)
}

func TestUnsubscribeThenResume(t *testing.T) {
	s := New(Config{Capacity: 10, ProduceDeadline: time.Second})
	defer s.Close()

	var mu sync.Mutex
	count := 0
	sub := s.Subscribe(func(env gagent.EventEnvelope) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	s.Produce(ctx, envelope(1))
	time.Sleep(30 * time.Millisecond)

	sub.Unsubscribe()
	s.Produce(ctx, envelope(2))
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	afterUnsub := count
	mu.Unlock()
	require.Equal(t, 1, afterUnsub)

	sub.Resume()
	s.Produce(ctx, envelope(3))
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, count)
	sub.Dispose()
}

func TestRegistryGetOrCreateIsIdempotent(t *testing.T) {
	r := NewRegistry(DefaultConfig())
	id := gagent.NewAgentId()

	s1 := r.GetOrCreate(id)
	s2 := r.GetOrCreate(id)
	require.Same(t, s1, s2)
	require.Equal(t, 1, r.Len())

	r.Remove(id)
	require.Equal(t, 0, r.Len())
	_, ok := r.Get(id)
	require.False(t, ok)
}
