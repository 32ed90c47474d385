package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeRetryEventRoundTrip(t *testing.T) {
	data, err := json.Marshal(retryEvent{
		TrendIDs: []string{"t1", "t2"},
		Time:     time.Now(),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ids, err := DecodeRetryEvent(data)
	if err != nil {
		t.Fatalf("DecodeRetryEvent returned error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "t1" || ids[1] != "t2" {
		t.Fatalf("unexpected IDs: %v", ids)
	}
}

func TestDecodeRetryEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeRetryEvent([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
