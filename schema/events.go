package schema

import "time"

// DiagKind is the top-level kind of a pipeline diagnostic event.
type DiagKind string

const (
	// DiagSessionStart indicates a pipeline session started.
	DiagSessionStart DiagKind = "session.start"
	// DiagSessionEnd indicates a pipeline session ended.
	DiagSessionEnd DiagKind = "session.end"
	// DiagFrameComplete indicates a drained output batch was fully applied.
	DiagFrameComplete DiagKind = "frame.complete"
	// DiagResize indicates a geometry change propagated through the pipeline.
	DiagResize DiagKind = "resize"
	// DiagFilterError indicates a filter returned an error and was skipped.
	DiagFilterError DiagKind = "filter.error"
	// DiagFlowEnd indicates one traffic direction stopped.
	DiagFlowEnd DiagKind = "flow.end"
	// DiagDropped indicates a diagnostic subscriber could not keep up.
	DiagDropped DiagKind = "dropped"
)

// DiagEvent is one diagnostic emitted by a running pipeline. Diagnostics
// are advisory: a consumer that falls behind loses events, never traffic.
type DiagEvent struct {
	Kind    DiagKind
	Session SessionID
	Flow    FlowName
	Filter  FilterName
	Err     string
	Size    *Size
	Seq     uint64
	At      time.Time
}

// RecordEventType tags one line in a recording stream.
type RecordEventType string

const (
	// RecordOutput is workload output bytes.
	RecordOutput RecordEventType = "output"
	// RecordInput is presentation input bytes.
	RecordInput RecordEventType = "input"
	// RecordResize is a geometry change.
	RecordResize RecordEventType = "resize"
	// RecordFrame marks a completed output frame.
	RecordFrame RecordEventType = "frame"
	// RecordEnd marks the end of the session.
	RecordEnd RecordEventType = "end"
)

// RecordHeader is the first line of a recording file.
type RecordHeader struct {
	Version   int       `json:"vtgrid"`
	Session   SessionID `json:"session"`
	StartedAt time.Time `json:"started_at"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	Shell     string    `json:"shell,omitempty"`
	Encrypted bool      `json:"encrypted,omitempty"`
}

// RecordHeaderVersion is the recording format version written by this build.
const RecordHeaderVersion = 1

// RecordEvent is one timed line in a recording stream. MS is milliseconds
// since the recording started. Data is base64 in the JSON encoding.
type RecordEvent struct {
	T    RecordEventType `json:"t"`
	MS   int64           `json:"ms"`
	Data []byte          `json:"data,omitempty"`
	Cols int             `json:"cols,omitempty"`
	Rows int             `json:"rows,omitempty"`
	Exit *int            `json:"exit,omitempty"`
}
