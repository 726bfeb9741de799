package uploader

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakeView records everything the controller tells it.
type fakeView struct {
	mu         sync.Mutex
	values     Submission
	statuses   []Status
	resets     int
	categories []string
	indicators []string
}

func (v *fakeView) FieldValues() Submission {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.values
}

func (v *fakeView) SetStatus(s Status) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statuses = append(v.statuses, s)
}

func (v *fakeView) ResetFields() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.resets++
	v.values = Submission{}
}

func (v *fakeView) SetCategoryOptions(c []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.categories = c
}

func (v *fakeView) SetIndicatorOptions(i []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.indicators = i
}

func (v *fakeView) last() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return Status{}
	}
	return v.statuses[len(v.statuses)-1]
}

func (v *fakeView) states() []State {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]State, 0, len(v.statuses))
	for _, s := range v.statuses {
		out = append(out, s.State)
	}
	return out
}

func pdf(name string, size int) File {
	data := bytes.Repeat([]byte("x"), size)
	return FileFromBytes(name, PDFContentType, data)
}

func validSubmission(files int) Submission {
	sub := Submission{
		OfficerEmail: "officer@example.org",
		EvidenceName: "Q3 Clinic Audit",
		Category:     "Health",
		Indicator:    "Clinics inspected",
		SubCounty:    "Westlands",
	}
	for i := range files {
		sub.Files = append(sub.Files, pdf(fmt.Sprintf("report-%02d.pdf", i), 1024+i))
	}
	return sub
}
