package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"git.home.luguber.info/inful/sitemapd/internal/config"
)

// TestNoopPublisher verifies the default publisher accepts every event
// without error, so generation code can publish unconditionally.
func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	ctx := context.Background()

	if err := p.RunStarted(ctx, RunStartedEvent{RunID: "r1"}); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if err := p.PartitionWritten(ctx, PartitionWrittenEvent{Day: "2025-03-10"}); err != nil {
		t.Fatalf("PartitionWritten: %v", err)
	}
	if err := p.RunFinished(ctx, RunFinishedEvent{Outcome: OutcomeCompleted}); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

// TestNATSPublisherRequiresEnabled verifies the constructor refuses a
// disabled config instead of opening a connection.
func TestNATSPublisherRequiresEnabled(t *testing.T) {
	_, err := NewNATSPublisher(config.EventsConfig{Enabled: false})
	if err == nil {
		t.Fatal("expected an error for disabled event config")
	}
}

// TestPartitionWrittenWireFormat pins the JSON field omissions consumers
// depend on: direct generations carry no run_id, and removed/forced only
// appear when set.
func TestPartitionWrittenWireFormat(t *testing.T) {
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(PartitionWrittenEvent{
		Day:        "2025-03-10",
		EntryCount: 3,
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)
	for _, absent := range []string{"run_id", "removed", "forced"} {
		if strings.Contains(body, absent) {
			t.Fatalf("expected %q omitted from %s", absent, body)
		}
	}

	data, err = json.Marshal(PartitionWrittenEvent{
		RunID:      "r1",
		Day:        "2025-03-10",
		EntryCount: 0,
		Removed:    true,
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body = string(data)
	for _, present := range []string{`"run_id":"r1"`, `"removed":true`} {
		if !strings.Contains(body, present) {
			t.Fatalf("expected %s in %s", present, body)
		}
	}
}
