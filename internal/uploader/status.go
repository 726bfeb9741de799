package uploader

import "fmt"

// State is the observable controller state.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateUploading  State = "uploading"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Status is what the view renders: the state plus a progress fraction while
// uploading, or a message on success and error.
type Status struct {
	State    State
	Progress float64
	Message  string
}

func Idle() Status       { return Status{State: StateIdle} }
func Validating() Status { return Status{State: StateValidating} }

func Uploading(progress float64) Status {
	return Status{State: StateUploading, Progress: clamp01(progress)}
}

func Succeeded(msg string) Status { return Status{State: StateSuccess, Message: msg, Progress: 1} }
func Failed(msg string) Status    { return Status{State: StateError, Message: msg} }

func (s Status) String() string {
	switch s.State {
	case StateUploading:
		return fmt.Sprintf("uploading(%.0f%%)", s.Progress*100)
	case StateSuccess, StateError:
		return fmt.Sprintf("%s(%s)", s.State, s.Message)
	default:
		return string(s.State)
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// View is the boundary between the controller and whatever renders the form.
// SetStatus may be called from the goroutine streaming the upload, so
// implementations must be safe for concurrent use.
type View interface {
	// FieldValues returns the current form values.
	FieldValues() Submission
	SetStatus(Status)
	// ResetFields returns every input to its empty/default value.
	ResetFields()
	SetCategoryOptions(categories []string)
	// SetIndicatorOptions replaces the indicator choices; an empty list
	// also clears the current selection.
	SetIndicatorOptions(indicators []string)
}
