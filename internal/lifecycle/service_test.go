package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOpenThenActivityGatesClose(t *testing.T) {
	svc := New()
	require.NoError(t, svc.Open(nil))
	require.True(t, svc.IsOpen())

	require.NoError(t, svc.TryAcquireActivity())

	closed := make(chan struct{})
	svc.CloseAsync(func() { close(closed) })
	require.False(t, svc.IsOpen())

	select {
	case <-closed:
		t.Fatal("close ran while activity outstanding")
	case <-time.After(20 * time.Millisecond):
	}

	svc.ReleaseActivity()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not run after last activity released")
	}
	svc.Wait()
	require.Equal(t, Closed, svc.State())
}

func TestTryAcquireActivityFailsAfterCloseRequested(t *testing.T) {
	svc := New()
	require.NoError(t, svc.Open(nil))
	svc.CloseAsync(nil)
	svc.Wait()
	require.ErrorIs(t, svc.TryAcquireActivity(), ErrClosed)
}

func TestCloseWithNoActivityRunsImmediately(t *testing.T) {
	svc := New()
	require.NoError(t, svc.Open(nil))
	ran := false
	svc.Close(func() { ran = true })
	require.True(t, ran)
	require.Equal(t, Closed, svc.State())
}
