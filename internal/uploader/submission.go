// Package uploader validates evidence submissions and uploads them as
// multipart/form-data to the evidence proxy, reporting progress through a
// view-model.
package uploader

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// PDFContentType is the only accepted declared file type.
const PDFContentType = "application/pdf"

// Default limits.
const (
	DefaultMaxFiles    = 10
	DefaultMaxFileSize = 30 * 1024 * 1024
)

// Multipart field names for the metadata attributes.
const (
	FieldOfficerEmail = "officerEmail"
	FieldEvidenceName = "evidenceName"
	FieldCategory     = "category"
	FieldIndicator    = "indicator"
	FieldSubCounty    = "subCounty"
)

// Opener reopens a file's content. Each upload attempt opens it again.
type Opener interface {
	Open() (io.ReadCloser, error)
}

// File is one attachment with its declared metadata.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Source      Opener
}

// Submission is the set of form values for one submit action.
type Submission struct {
	OfficerEmail string
	EvidenceName string
	Category     string
	Indicator    string
	SubCounty    string
	Files        []File
}

// Normalized trims the free-text fields the way the form does.
func (s Submission) Normalized() Submission {
	s.OfficerEmail = strings.TrimSpace(s.OfficerEmail)
	s.EvidenceName = strings.TrimSpace(s.EvidenceName)
	return s
}

// TotalSize is the sum of declared file sizes.
func (s Submission) TotalSize() int64 {
	var n int64
	for _, f := range s.Files {
		n += f.Size
	}
	return n
}

// metadata returns the form fields in wire order.
func (s Submission) metadata() [][2]string {
	return [][2]string{
		{FieldOfficerEmail, s.OfficerEmail},
		{FieldEvidenceName, s.EvidenceName},
		{FieldCategory, s.Category},
		{FieldIndicator, s.Indicator},
		{FieldSubCounty, s.SubCounty},
	}
}

type pathOpener string

func (p pathOpener) Open() (io.ReadCloser, error) { return os.Open(string(p)) }

type bytesOpener []byte

func (b bytesOpener) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileFromPath describes a file on disk. The declared type comes from the
// extension, falling back to content sniffing when the extension is unknown.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}

	contentType := mediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(path))))
	if contentType == "" {
		contentType, err = sniff(path)
		if err != nil {
			return File{}, err
		}
	}

	return File{
		Name:        filepath.Base(path),
		ContentType: contentType,
		Size:        info.Size(),
		Source:      pathOpener(path),
	}, nil
}

// FileFromBytes describes an in-memory file.
func FileFromBytes(name, contentType string, data []byte) File {
	return File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Source:      bytesOpener(data),
	}
}

func sniff(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return mediaType(http.DetectContentType(buf[:n])), nil
}

// mediaType strips parameters such as charset.
func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return mt
}
