package schema

import "errors"

var (
	// ErrInvalidResize indicates resize dimensions below one column or row.
	ErrInvalidResize = errors.New("invalid resize dimensions")
	// ErrNilWorkload indicates a pipeline was built without a workload endpoint.
	ErrNilWorkload = errors.New("nil workload endpoint")
	// ErrNilPresentation indicates a pipeline was built without a presentation endpoint.
	ErrNilPresentation = errors.New("nil presentation endpoint")
	// ErrNilFilter indicates a nil filter was attached to a pipeline.
	ErrNilFilter = errors.New("nil filter")
	// ErrPipelineStarted indicates Start was called twice.
	ErrPipelineStarted = errors.New("pipeline already started")
	// ErrPipelineNotStarted indicates an operation that requires a running pipeline.
	ErrPipelineNotStarted = errors.New("pipeline not started")
	// ErrPipelineClosed indicates the pipeline has been closed.
	ErrPipelineClosed = errors.New("pipeline closed")
	// ErrWorkloadExited indicates the workload endpoint ended the session.
	ErrWorkloadExited = errors.New("workload exited")
	// ErrInvalidSession indicates a malformed session identifier.
	ErrInvalidSession = errors.New("invalid session id")
	// ErrRecordingNotFound indicates a recording could not be found.
	ErrRecordingNotFound = errors.New("recording not found")
	// ErrRecordingEncrypted indicates a recording needs a key to be read.
	ErrRecordingEncrypted = errors.New("recording is encrypted")
	// ErrInvalidRecording indicates a recording file with a bad header.
	ErrInvalidRecording = errors.New("invalid recording")
	// ErrInvalidPalette indicates an unsupported palette name.
	ErrInvalidPalette = errors.New("invalid palette")
)
