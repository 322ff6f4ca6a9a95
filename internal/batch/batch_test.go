package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestRunAllSucceed(t *testing.T) {
	var n atomic.Int32
	op := func(ctx context.Context) error {
		n.Add(1)
		return nil
	}

	require.NoError(t, Run(context.Background(), op, op, op))
	assert.Equal(t, int32(3), n.Load())
}

func TestRunEmpty(t *testing.T) {
	require.NoError(t, Run(context.Background()))
}

func TestRunFirstErrorCancelsSiblings(t *testing.T) {
	boom := errors.New("boom")
	var cancelled atomic.Bool

	err := Run(context.Background(),
		func(ctx context.Context) error {
			return boom
		},
		func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				cancelled.Store(true)
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	)

	require.ErrorIs(t, err, boom)
	assert.True(t, cancelled.Load(), "sibling should observe cancellation")
}

func TestRunRecoversPanic(t *testing.T) {
	err := Run(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestGroupWaitReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	g := New(context.Background())
	release := make(chan struct{})

	g.Go(func(ctx context.Context) error {
		return first
	})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(release)
		return errors.New("second")
	})

	err := g.Wait()
	<-release
	assert.ErrorIs(t, err, first)
}
