package uploader

import (
	"fmt"
	"strings"
)

// MsgMissingFields is shown when a required field or the file list is empty.
const MsgMissingFields = "Please fill all fields and select at least one PDF file."

// Limits bounds the file list.
type Limits struct {
	MaxFiles    int
	MaxFileSize int64
}

// DefaultLimits returns 10 files of at most 30MB each.
func DefaultLimits() Limits {
	return Limits{MaxFiles: DefaultMaxFiles, MaxFileSize: DefaultMaxFileSize}
}

// Validate checks a normalized submission. The first violation wins:
// required fields, then file count, then each file's type and size in order.
func (l Limits) Validate(sub Submission) error {
	for _, f := range sub.metadata() {
		if strings.TrimSpace(f[1]) == "" {
			return &ValidationError{Message: MsgMissingFields}
		}
	}
	if len(sub.Files) == 0 {
		return &ValidationError{Message: MsgMissingFields}
	}
	if len(sub.Files) > l.MaxFiles {
		return &ValidationError{Message: fmt.Sprintf("You can upload at most %d files.", l.MaxFiles)}
	}
	for _, f := range sub.Files {
		if mediaType(f.ContentType) != PDFContentType {
			return &ValidationError{File: f.Name, Message: fmt.Sprintf("%s is not a PDF file.", f.Name)}
		}
		if f.Size > l.MaxFileSize {
			return &ValidationError{
				File:    f.Name,
				Message: fmt.Sprintf("%s exceeds the %s limit.", f.Name, formatLimit(l.MaxFileSize)),
			}
		}
	}
	return nil
}

func formatLimit(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
