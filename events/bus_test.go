package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hotshot/events"
)

func TestPublisherOrderPreserved(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := events.NewBus[int]()
	sub := bus.Subscribe(256, nil)
	defer sub.Cancel()

	for i := 0; i < 100; i++ {
		bus.Publish(i)
	}
	for i := 0; i < 100; i++ {
		got, err := sub.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, i, got)
	}
}

func TestFilterSelectsSubset(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := events.NewBus[int]()
	even := bus.Subscribe(16, func(v int) bool { return v%2 == 0 })
	defer even.Cancel()

	for i := 0; i < 10; i++ {
		bus.Publish(i)
	}
	for i := 0; i < 10; i += 2 {
		got, err := even.Next(ctx)
		require.NoError(t, err)
		require.Equal(t, i, got)
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := events.NewBus[int]()
	sub := bus.Subscribe(4, nil)
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// far more events than the queue holds; nothing reads them
		for i := 0; i < 1000; i++ {
			bus.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
	require.NotZero(t, bus.Dropped())

	// the queue retains the most recent events, oldest were dropped
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := sub.Next(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got, 996)
}

func TestCancelDeliversNothingFurther(t *testing.T) {
	bus := events.NewBus[int]()
	sub := bus.Subscribe(16, nil)

	bus.Publish(1)
	sub.Cancel()
	bus.Publish(2)

	_, err := sub.Next(context.Background())
	require.ErrorIs(t, err, events.ErrSubscriptionCancelled)
}

func TestCancelDuringPublishStorm(t *testing.T) {
	bus := events.NewBus[int]()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
					bus.Publish(i)
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		sub := bus.Subscribe(8, nil)
		sub.Cancel()
		sub.Cancel() // idempotent
	}
	close(stop)
	wg.Wait()
}

func TestTaskLogsAndDropsHandlerErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := events.NewBus[int]()
	sub := bus.Subscribe(16, nil)

	seen := make(chan int, 16)
	task := events.NewTask("test", sub, func(_ context.Context, v int) error {
		seen <- v
		if v == 1 {
			return context.DeadlineExceeded // any error: event dropped, loop continues
		}
		return nil
	}, testLogger())

	go task.Run(ctx)
	bus.Publish(1)
	bus.Publish(2)

	require.Equal(t, 1, <-seen)
	require.Equal(t, 2, <-seen)

	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop after cancel")
	}
}
