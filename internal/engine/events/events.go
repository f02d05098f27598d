// Package events defines the typed messages the engine publishes to
// subscribers. Display layers consume these read-only; nothing in
// here reaches back into the engine.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/IsaacGridGainsDev/torrentlite/internal/engine/progress"
)

// TaskQueuedMsg is sent when a task is accepted by the manager but a
// download slot is not yet free.
type TaskQueuedMsg struct {
	TaskID string
	URL    string
}

// TaskStartedMsg is sent once probing finished and the download begins.
type TaskStartedMsg struct {
	TaskID   string
	URL      string
	Filename string
	DestPath string
	Total    int64 // -1 when unknown
}

// TaskProgressMsg wraps a progress snapshot.
type TaskProgressMsg struct {
	Snapshot progress.Snapshot
}

// TaskPausedMsg is sent after all workers stopped and offsets were
// persisted.
type TaskPausedMsg struct {
	TaskID     string
	Downloaded int64
}

// TaskResumedMsg is sent when a paused task re-enters downloading.
type TaskResumedMsg struct {
	TaskID string
}

// TaskCompletedMsg signals successful finalization.
type TaskCompletedMsg struct {
	TaskID   string
	Filename string
	DestPath string
	Total    int64
	Elapsed  time.Duration
}

// TaskCancelledMsg signals user-initiated cancellation; temp files and
// the resume record are already gone when this is published.
type TaskCancelledMsg struct {
	TaskID string
}

// TaskFailedMsg carries a terminal failure: the error kind for policy
// and a human-readable cause for display.
type TaskFailedMsg struct {
	TaskID string
	Kind   string
	Err    error
}

func (m TaskFailedMsg) MarshalJSON() ([]byte, error) {
	type encoded struct {
		TaskID string `json:"TaskID"`
		Kind   string `json:"Kind,omitempty"`
		Err    string `json:"Err,omitempty"`
	}
	out := encoded{TaskID: m.TaskID, Kind: m.Kind}
	if m.Err != nil {
		out.Err = m.Err.Error()
	}
	return json.Marshal(out)
}

func (m *TaskFailedMsg) UnmarshalJSON(data []byte) error {
	var aux struct {
		TaskID string `json:"TaskID"`
		Kind   string `json:"Kind"`
		Err    string `json:"Err"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.TaskID = aux.TaskID
	m.Kind = aux.Kind
	m.Err = nil
	if aux.Err != "" {
		m.Err = errors.New(aux.Err)
	}
	return nil
}

// Terminal reports whether msg is one of the terminal-state events.
func Terminal(msg any) bool {
	switch msg.(type) {
	case TaskCompletedMsg, TaskFailedMsg, TaskCancelledMsg:
		return true
	}
	return false
}

// TaskIDOf extracts the task id from any event message, "" for unknown
// message types.
func TaskIDOf(msg any) string {
	switch m := msg.(type) {
	case TaskQueuedMsg:
		return m.TaskID
	case TaskStartedMsg:
		return m.TaskID
	case TaskProgressMsg:
		return m.Snapshot.TaskID
	case TaskPausedMsg:
		return m.TaskID
	case TaskResumedMsg:
		return m.TaskID
	case TaskCompletedMsg:
		return m.TaskID
	case TaskCancelledMsg:
		return m.TaskID
	case TaskFailedMsg:
		return m.TaskID
	}
	return ""
}
