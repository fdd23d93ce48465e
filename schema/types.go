package schema

// SessionID identifies one pipeline session.
type SessionID string

// FilterName identifies a filter attached to a pipeline.
type FilterName string

// FlowName labels one direction of pipeline traffic.
type FlowName string

const (
	// FlowOutput is workload-to-presentation traffic.
	FlowOutput FlowName = "output"
	// FlowInput is presentation-to-workload traffic.
	FlowInput FlowName = "input"
)

// RecordingID identifies a stored session recording.
type RecordingID string

// Size is a terminal geometry in character cells.
type Size struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Capabilities describes what a presentation endpoint can display.
type Capabilities struct {
	Mouse          bool
	TrueColor      bool
	Colors256      bool
	AltScreen      bool
	BracketedPaste bool
}
