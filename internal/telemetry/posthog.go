package telemetry

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
)

// Event names
const (
	EventRunCompleted = "timelapse_run_completed"
	EventRunFailed    = "timelapse_run_failed"
)

// AppVersion is reported with every event; set at build time
var AppVersion = "0.0.0-dev"

// Enqueuer is the part of posthog.Client the tracker uses
type Enqueuer interface {
	Enqueue(posthog.Message) error
	Close() error
}

// Tracker sends anonymous run events. A zero Tracker is disabled and every
// method is a no-op.
type Tracker struct {
	client     Enqueuer
	distinctID string
}

// New initializes PostHog from POSTHOG_API_KEY and POSTHOG_HOST. Without a
// key, or when the client cannot be created, a disabled tracker is returned.
func New(getenv func(string) string, stateDir string) *Tracker {
	if getenv == nil {
		getenv = os.Getenv
	}
	key := getenv("POSTHOG_API_KEY")
	if key == "" {
		return &Tracker{}
	}

	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: getenv("POSTHOG_HOST")})
	if err != nil {
		log.Printf("Failed to initialize PostHog: %v", err)
		return &Tracker{}
	}
	return NewWithClient(client, InstallID(stateDir))
}

// NewWithClient wraps an existing client
func NewWithClient(client Enqueuer, distinctID string) *Tracker {
	return &Tracker{client: client, distinctID: distinctID}
}

// Enabled reports whether events are sent anywhere
func (t *Tracker) Enabled() bool { return t != nil && t.client != nil }

// Track sends an event to PostHog
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if !t.Enabled() {
		return
	}
	properties := posthog.NewProperties().Set("app_version", AppVersion)
	for k, v := range props {
		properties.Set(k, v)
	}
	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		log.Printf("[Telemetry] Failed to enqueue %s: %v", event, err)
	}
}

// Close flushes queued events
func (t *Tracker) Close() {
	if !t.Enabled() {
		return
	}
	if err := t.client.Close(); err != nil {
		log.Printf("[Telemetry] Failed to flush events: %v", err)
	}
}

// InstallID returns the anonymous id stored in dir, creating it on first
// use. If the file cannot be written a fresh id is used for this run only.
func InstallID(dir string) string {
	path := filepath.Join(dir, "install_id")
	if data, err := os.ReadFile(path); err == nil {
		if id, err := uuid.Parse(strings.TrimSpace(string(data))); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	if dir == "" {
		return id
	}
	if err := os.MkdirAll(dir, 0755); err == nil {
		if err := os.WriteFile(path, []byte(id+"\n"), 0644); err != nil {
			log.Printf("[Telemetry] Failed to persist install id: %v", err)
		}
	}
	return id
}
