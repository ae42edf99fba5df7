package online

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlow struct {
	calls []bool
}

func (f *fakeFlow) SetHardwareFlowControl(on bool) error {
	f.calls = append(f.calls, on)
	return nil
}

func TestTickTransitionsAndLogsOffline(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	entry := logrus.NewEntry(logger)

	flow := &fakeFlow{}
	tr := New(true, true, true, flow, entry)

	base := time.Unix(1000, 0)
	tr.Tick(base, true)
	require.True(t, tr.Online())
	assert.Equal(t, []bool{true}, flow.calls)

	tr.Tick(base.Add(90*time.Second), true)
	assert.Equal(t, 90*time.Second, tr.Seconds())

	tr.Tick(base.Add(95*time.Second), false)
	assert.False(t, tr.Online())
	assert.Equal(t, Offline, tr.Seconds())
	assert.Equal(t, []bool{true, false}, flow.calls)

	require.Len(t, hook.Entries, 1)
	assert.Contains(t, hook.LastEntry().Message, "Gone offline")
}

func TestTickWithoutDCDSupportAlwaysOnline(t *testing.T) {
	tr := New(false, false, false, nil, nil)
	tr.Tick(time.Unix(0, 0), false)
	assert.True(t, tr.Online())
}

func TestStatusTextWording(t *testing.T) {
	tr := New(true, false, false, nil, nil)
	assert.Equal(t, "Offline", tr.StatusText(false))
	assert.Equal(t, "OFFLINE", tr.StatusText(true))

	tr.Tick(time.Unix(0, 0), true)
	tr.Tick(time.Unix(0, 0).Add(125*time.Minute), true)
	assert.Equal(t, "Online 2:05", tr.StatusText(false))
}
