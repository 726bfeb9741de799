package main

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/nccevidence/evidencedesk/internal/uploader"
)

// terminalView renders the upload form state as lines of text.
type terminalView struct {
	out io.Writer

	mu       sync.Mutex
	values   uploader.Submission
	lastStep int
	status   uploader.Status
}

var _ uploader.View = (*terminalView)(nil)

func newTerminalView(out io.Writer, values uploader.Submission) *terminalView {
	return &terminalView{out: out, values: values, lastStep: -1}
}

func (v *terminalView) FieldValues() uploader.Submission {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values
}

// SetStatus prints state changes. Progress is printed in 10% steps.
func (v *terminalView) SetStatus(s uploader.Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = s

	switch s.State {
	case uploader.StateUploading:
		step := int(math.Floor(s.Progress * 10))
		if step == v.lastStep {
			return
		}
		v.lastStep = step
		fmt.Fprintf(v.out, "Uploading... %d%%\n", step*10)
	case uploader.StateValidating:
		v.lastStep = -1
		fmt.Fprintln(v.out, "Validating...")
	case uploader.StateSuccess, uploader.StateError:
		fmt.Fprintln(v.out, s.Message)
	}
}

func (v *terminalView) ResetFields() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values = uploader.Submission{}
}

func (v *terminalView) SetCategoryOptions(categories []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, "Categories:")
	for _, c := range categories {
		fmt.Fprintf(v.out, "  %s\n", c)
	}
}

func (v *terminalView) SetIndicatorOptions(indicators []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values.Indicator = ""
	if len(indicators) == 0 {
		fmt.Fprintln(v.out, "No indicators for this category.")
		return
	}
	fmt.Fprintln(v.out, "Indicators:")
	for _, i := range indicators {
		fmt.Fprintf(v.out, "  %s\n", i)
	}
}

// Status returns the last status set.
func (v *terminalView) Status() uploader.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}
