package future_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortressi/txstep/future"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwait_Success(t *testing.T) {
	f := future.Go(context.Background(), func(context.Context) (future.Value, error) {
		time.Sleep(20 * time.Millisecond)
		return 8, nil
	})

	for i := 0; i < 5; i++ {
		v, err := f.Await(context.Background())
		if assert.NoError(t, err) {
			assert.EqualValues(t, 8, v)
		}
	}
}

func TestAwait_Error(t *testing.T) {
	exp := errors.New("expected")
	f := future.Go(context.Background(), func(context.Context) (future.Value, error) {
		return nil, exp
	})

	v, err := f.Await(context.Background())
	assert.Nil(t, v)
	assert.Same(t, exp, err)
}

func TestAwait_ContextDone(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := future.Go(context.Background(), func(context.Context) (future.Value, error) {
		<-block
		return 10, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	v, err := f.Await(ctx)
	assert.Nil(t, v)
	assert.Equal(t, context.DeadlineExceeded, err)
}

func TestAwait_SettledIgnoresDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v, err := future.Resolved("ok").Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestGo_RecoversPanic(t *testing.T) {
	f := future.Go(context.Background(), func(context.Context) (future.Value, error) {
		panic("boom")
	})

	_, err := f.Await(context.Background())
	var pe *future.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "boom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Nil(t, pe.Unwrap())
}

func TestPanicError_UnwrapsErrorPayload(t *testing.T) {
	exp := errors.New("inner")
	_, err := future.Call(context.Background(), func(context.Context) (future.Value, error) {
		panic(exp)
	})
	assert.ErrorIs(t, err, exp)
}

func TestThen(t *testing.T) {
	f := future.Resolved(2).Then(func(_ context.Context, v future.Value) (future.Value, error) {
		return v.(int) * 21, nil
	})
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	exp := errors.New("rejected")
	called := false
	f = future.Rejected(exp).Then(func(context.Context, future.Value) (future.Value, error) {
		called = true
		return nil, nil
	})
	_, err = f.Await(context.Background())
	assert.Same(t, exp, err)
	assert.False(t, called)
}

func TestDone(t *testing.T) {
	f := future.Resolved(nil)
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("resolved future should be done")
	}
}
