package nats

import (
	"testing"
	"time"
)

func TestUploadEventRoundTrip(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	data, err := encodeUploadEvent("doc-1", at)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	event, err := decodeUploadEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.DocumentID != "doc-1" || !event.UploadedAt.Equal(at) {
		t.Fatalf("unexpected event %+v", event)
	}
}

func TestDecodeUploadEventVariants(t *testing.T) {
	if event, err := decodeUploadEvent([]byte(" doc-7\n")); err != nil || event.DocumentID != "doc-7" {
		t.Fatalf("bare id: %+v %v", event, err)
	}
	for _, payload := range []string{"", "{", `{"uploaded_at":"2026-01-01T00:00:00Z"}`} {
		if _, err := decodeUploadEvent([]byte(payload)); err == nil {
			t.Fatalf("expected error for %q", payload)
		}
	}
	if _, err := encodeUploadEvent(" ", time.Now()); err == nil {
		t.Fatalf("expected error for empty id")
	}
}
