package telemetry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	messages []posthog.Message
	closed   bool
}

func (f *fakeClient) Enqueue(m posthog.Message) error {
	f.messages = append(f.messages, m)
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestTrackerDisabledWithoutKey(t *testing.T) {
	tr := New(func(string) string { return "" }, t.TempDir())
	assert.False(t, tr.Enabled())
	tr.Track(EventRunCompleted, map[string]interface{}{"frames": 3})
	tr.Close()

	var zero *Tracker
	assert.False(t, zero.Enabled())
}

func TestTrackSendsCapture(t *testing.T) {
	fake := &fakeClient{}
	tr := NewWithClient(fake, "install-1")

	tr.Track(EventRunCompleted, map[string]interface{}{"frames": 12, "granularity": "monthly"})
	tr.Close()

	require.Len(t, fake.messages, 1)
	capture, ok := fake.messages[0].(posthog.Capture)
	require.True(t, ok)
	assert.Equal(t, "install-1", capture.DistinctId)
	assert.Equal(t, EventRunCompleted, capture.Event)
	assert.Equal(t, 12, capture.Properties["frames"])
	assert.Equal(t, AppVersion, capture.Properties["app_version"])
	assert.True(t, fake.closed)
}

func TestInstallIDIsStable(t *testing.T) {
	dir := t.TempDir()
	first := InstallID(dir)
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.Equal(t, first, InstallID(dir))

	assert.NotEqual(t, InstallID(""), InstallID(""))
}
