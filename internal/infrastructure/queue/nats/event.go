package nats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type uploadEvent struct {
	DocumentID string    `json:"document_id"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func encodeUploadEvent(documentID string, at time.Time) ([]byte, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, errors.New("upload event: empty document id")
	}
	data, err := json.Marshal(uploadEvent{DocumentID: documentID, UploadedAt: at})
	if err != nil {
		return nil, fmt.Errorf("marshal upload event: %w", err)
	}
	return data, nil
}

// decodeUploadEvent also accepts a bare document id payload.
func decodeUploadEvent(data []byte) (uploadEvent, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return uploadEvent{}, errors.New("upload event: empty payload")
	}
	if !strings.HasPrefix(raw, "{") {
		return uploadEvent{DocumentID: raw}, nil
	}
	var event uploadEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return uploadEvent{}, fmt.Errorf("unmarshal upload event: %w", err)
	}
	if event.DocumentID == "" {
		return uploadEvent{}, errors.New("upload event: missing document_id")
	}
	return event, nil
}
