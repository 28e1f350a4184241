package queue

import (
	"encoding/json"
	"time"
)

// Kind selects the worker handler for a task.
type Kind string

const (
	// KindScan asks a worker to scan one mail connection.
	KindScan Kind = "scan"
	// KindDocumentIngested announces a document created by the pipeline.
	KindDocumentIngested Kind = "document.ingested"
)

// TaskVersion is bumped when the payload shape changes incompatibly.
const TaskVersion = 1

// Task is the payload exchanged between the API, the scanner and workers.
type Task struct {
	Kind         Kind   `json:"kind"`
	WorkspaceID  string `json:"workspaceId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	DocumentID   string `json:"documentId,omitempty"`
	MessageID    string `json:"messageId,omitempty"`
	Initial      bool   `json:"initial,omitempty"`
	RequestID    string `json:"requestId,omitempty"`
	EnqueuedAt   string `json:"enqueuedAt"`
	Version      int    `json:"version"`
}

// NewScanTask builds a scan request for a connection.
func NewScanTask(workspaceID, connectionID string, initial bool) Task {
	return stamp(Task{
		Kind:         KindScan,
		WorkspaceID:  workspaceID,
		ConnectionID: connectionID,
		Initial:      initial,
	})
}

// NewDocumentIngestedTask builds the post-ingest notification for a created document.
func NewDocumentIngestedTask(workspaceID, documentID, messageID string) Task {
	return stamp(Task{
		Kind:        KindDocumentIngested,
		WorkspaceID: workspaceID,
		DocumentID:  documentID,
		MessageID:   messageID,
	})
}

func stamp(t Task) Task {
	t.EnqueuedAt = time.Now().UTC().Format(time.RFC3339)
	t.Version = TaskVersion
	return t
}

// EncodeTask returns the JSON representation of a task.
func EncodeTask(t Task) ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses a JSON payload into a Task.
func DecodeTask(payload []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(payload, &t); err != nil {
		return Task{}, err
	}
	return t, nil
}
