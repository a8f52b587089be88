package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListener_HandlesInputs(t *testing.T) {
	in := make(chan int, 16)
	var (
		mu  sync.Mutex
		got []int
	)
	l := New(in, func(v int) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
		return nil
	})
	l.Start(context.Background())

	for i := 1; i <= 3; i++ {
		in <- i
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	l.Stop()
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestListener_ErrorHandler(t *testing.T) {
	in := make(chan string, 1)
	failed := make(chan string, 1)
	l := New(in,
		func(string) error { return errors.New("boom") },
		WithErrorHandler(func(v string, err error) {
			failed <- v + ": " + err.Error()
		}),
	)
	l.Start(context.Background())
	in <- "x"

	select {
	case msg := <-failed:
		assert.Equal(t, "x: boom", msg)
	case <-time.After(time.Second):
		t.Fatal("error handler was not called")
	}
	l.Stop()
}

func TestListener_StopDrainsQueue(t *testing.T) {
	in := make(chan int, 64)
	block := make(chan struct{})
	var (
		mu      sync.Mutex
		handled int
		stopped bool
	)
	l := New(in,
		func(int) error {
			<-block
			mu.Lock()
			handled++
			mu.Unlock()
			return nil
		},
		WithStopHandler[int](func() { stopped = true }),
	)
	l.Start(context.Background())

	for i := 0; i < 10; i++ {
		in <- i
	}
	close(block)
	l.Stop()

	assert.Equal(t, 10, handled)
	assert.True(t, stopped)
}
