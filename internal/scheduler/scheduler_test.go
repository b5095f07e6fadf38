package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRejectsBadSpec(t *testing.T) {
	s := New(context.Background())
	assert.Error(t, s.Add("bad", "every now and then", func(context.Context) error { return nil }))
	assert.NoError(t, s.Add("good", "@every 1s", func(context.Context) error { return nil }))
}

func TestWrappedJobRecoversPanics(t *testing.T) {
	s := New(context.Background())
	require.NoError(t, s.Add("boom", "@every 1h", func(context.Context) error { panic("boom") }))

	entries := s.cron.Entries()
	require.Len(t, entries, 1)
	assert.NotPanics(t, func() { entries[0].WrappedJob.Run() })
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, s.Add("slow", "@every 1h", func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}))
	job := s.cron.Entries()[0].WrappedJob

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()
	<-started
	job.Run()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
}

func TestRunPassesContextAndToleratesErrors(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	s := New(ctx)

	var got any
	s.run("ctx", func(ctx context.Context) error {
		got = ctx.Value(key{})
		return errors.New("tick failed")
	})
	assert.Equal(t, "v", got)
}

func TestRunSkipsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx)
	cancel()

	called := false
	s.run("cancelled", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, called)
}

func TestStartStop(t *testing.T) {
	s := New(context.Background())
	ticked := make(chan struct{}, 1)
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return nil
	}))
	s.Start()
	select {
	case <-ticked:
	case <-time.After(3 * time.Second):
		t.Fatal("task never ran")
	}
	<-s.Stop().Done()
}
