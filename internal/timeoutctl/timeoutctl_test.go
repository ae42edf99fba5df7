package timeoutctl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectTimeoutCancelsContext(t *testing.T) {
	c := New(3600)
	defer c.Stop()

	ctx, cancel := c.BeginExpect(1)
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("expect deadline never fired")
	}
}

func TestCancelDisarmsBeforeExpiry(t *testing.T) {
	c := New(3600)
	defer c.Stop()

	ctx, cancel := c.BeginExpect(60)
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context should be canceled immediately by cancel()")
	}
}

func TestGlobalTimeoutFires(t *testing.T) {
	c := New(1)
	defer c.Stop()

	select {
	case err := <-c.Global():
		require.ErrorIs(t, err, ErrGlobalTimeout)
	case <-time.After(3 * time.Second):
		t.Fatal("global timeout never fired")
	}
}

func TestSetGlobalExtends(t *testing.T) {
	c := New(1)
	defer c.Stop()
	c.SetGlobal(3600)

	select {
	case <-c.Global():
		t.Fatal("global timeout fired despite extension")
	case <-time.After(2 * time.Second):
	}
	assert.True(t, true)
}
