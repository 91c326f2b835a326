package fifo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueKeepsOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		assert.True(t, q.Push(i))
	}
	assert.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		v, ok := q.Pop(context.Background())
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestPopWaitsForPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := q.Pop(context.Background())
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push("hello")

	select {
	case v := <-got:
		assert.Equal(t, "hello", v)
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for pop")
	}
}

func TestCloseDrainsThenStops(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Close()

	assert.False(t, q.Push(2))
	v, ok := q.Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = q.Pop(context.Background())
	assert.False(t, ok)
}

func TestPopHonoursContext(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Pop(ctx)
	assert.False(t, ok)
}

func TestConcurrentPushers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Len())
}
