package uploader

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
)

// ProgressFunc receives the fraction of the request body sent so far.
type ProgressFunc func(fraction float64)

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func filePartHeader(field string, f File) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(f.Name)))
	h.Set("Content-Type", f.ContentType)
	return h
}

// payload streams a multipart body from a goroutine through a pipe so file
// content is never buffered whole.
type payload struct {
	contentType string
	length      int64

	reader *progressReader
	pipe   *io.PipeReader
	done   chan struct{}

	closeOnce sync.Once
}

// newPayload starts streaming sub. The caller must Close the payload.
func newPayload(sub Submission, fileField string, progress ProgressFunc) (*payload, error) {
	boundary := multipart.NewWriter(io.Discard).Boundary()

	length, err := payloadLength(sub, fileField, boundary)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	p := &payload{
		length: length,
		pipe:   pr,
		done:   make(chan struct{}),
		reader: &progressReader{r: pr, total: length, onProgress: progress},
	}

	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, err
	}
	p.contentType = mw.FormDataContentType()

	go func() {
		defer close(p.done)
		pw.CloseWithError(writeParts(mw, sub, fileField))
	}()
	return p, nil
}

// Read implements io.Reader for the request body.
func (p *payload) Read(b []byte) (int, error) { return p.reader.Read(b) }

// Sent is the number of body bytes read by the transport.
func (p *payload) Sent() int64 { return p.reader.sent.Load() }

// Close stops the writer goroutine and waits for it to exit.
func (p *payload) Close() error {
	p.closeOnce.Do(func() {
		_ = p.pipe.Close()
		<-p.done
	})
	return nil
}

// writeParts emits metadata fields first, then one part per file.
func writeParts(mw *multipart.Writer, sub Submission, fileField string) error {
	for _, kv := range sub.metadata() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return err
		}
	}
	for _, f := range sub.Files {
		part, err := mw.CreatePart(filePartHeader(fileField, f))
		if err != nil {
			return err
		}
		if err := copyFile(part, f); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFile(w io.Writer, f File) error {
	if f.Source == nil {
		return fmt.Errorf("%s has no content", f.Name)
	}
	rc, err := f.Source.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	n, err := io.Copy(w, io.LimitReader(rc, f.Size))
	if err != nil {
		return fmt.Errorf("read %s: %w", f.Name, err)
	}
	if n != f.Size {
		return fmt.Errorf("%s changed size during upload (%d of %d bytes)", f.Name, n, f.Size)
	}
	return nil
}

// payloadLength renders every header and boundary with the real boundary
// and adds the declared file sizes, giving the exact Content-Length.
func payloadLength(sub Submission, fileField, boundary string) (int64, error) {
	cw := &countingWriter{}
	mw := multipart.NewWriter(cw)
	if err := mw.SetBoundary(boundary); err != nil {
		return 0, err
	}
	for _, kv := range sub.metadata() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return 0, err
		}
	}
	for _, f := range sub.Files {
		if _, err := mw.CreatePart(filePartHeader(fileField, f)); err != nil {
			return 0, err
		}
		cw.n += f.Size
	}
	if err := mw.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

type progressReader struct {
	r          io.Reader
	total      int64
	sent       atomic.Int64
	onProgress ProgressFunc
}

func (pr *progressReader) Read(b []byte) (int, error) {
	n, err := pr.r.Read(b)
	if n > 0 {
		sent := pr.sent.Add(int64(n))
		if pr.onProgress != nil && pr.total > 0 {
			pr.onProgress(clamp01(float64(sent) / float64(pr.total)))
		}
	}
	return n, err
}
