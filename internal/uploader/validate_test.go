package uploader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimits_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Submission)
		wantMsg string
		wantOK  bool
	}{
		{
			name:   "valid submission",
			mutate: func(*Submission) {},
			wantOK: true,
		},
		{
			name:    "blank email after trim",
			mutate:  func(s *Submission) { s.OfficerEmail = "   " },
			wantMsg: MsgMissingFields,
		},
		{
			name:    "missing indicator",
			mutate:  func(s *Submission) { s.Indicator = "" },
			wantMsg: MsgMissingFields,
		},
		{
			name:    "no files",
			mutate:  func(s *Submission) { s.Files = nil },
			wantMsg: MsgMissingFields,
		},
		{
			name: "too many files wins over type errors",
			mutate: func(s *Submission) {
				s.Files = validSubmission(11).Files
				s.Files[0].ContentType = "image/png"
			},
			wantMsg: "You can upload at most 10 files.",
		},
		{
			name:   "exactly ten files",
			mutate: func(s *Submission) { s.Files = validSubmission(10).Files },
			wantOK: true,
		},
		{
			name: "wrong type",
			mutate: func(s *Submission) {
				s.Files[0].ContentType = "application/msword"
				s.Files[0].Name = "memo.doc"
			},
			wantMsg: "memo.doc is not a PDF file.",
		},
		{
			name:   "pdf with parameters",
			mutate: func(s *Submission) { s.Files[0].ContentType = "application/pdf; name=a.pdf" },
			wantOK: true,
		},
		{
			name: "file over 30MB",
			mutate: func(s *Submission) {
				s.Files[0].Name = "big.pdf"
				s.Files[0].Size = DefaultMaxFileSize + 1
			},
			wantMsg: "big.pdf exceeds the 30MB limit.",
		},
		{
			name:   "file exactly 30MB",
			mutate: func(s *Submission) { s.Files[0].Size = DefaultMaxFileSize },
			wantOK: true,
		},
		{
			name: "first bad file is reported",
			mutate: func(s *Submission) {
				s.Files = validSubmission(3).Files
				s.Files[1].Name = "one.txt"
				s.Files[1].ContentType = "text/plain"
				s.Files[2].Name = "two.txt"
				s.Files[2].ContentType = "text/plain"
			},
			wantMsg: "one.txt is not a PDF file.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sub := validSubmission(1)
			tt.mutate(&sub)

			err := DefaultLimits().Validate(sub.Normalized())
			if tt.wantOK {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantMsg, verr.Message)
		})
	}
}

func TestLimits_CustomSizeMessage(t *testing.T) {
	t.Parallel()

	l := Limits{MaxFiles: 2, MaxFileSize: 5 * 1024 * 1024}
	sub := validSubmission(1)
	sub.Files[0].Size = l.MaxFileSize + 1

	err := l.Validate(sub)
	require.Error(t, err)
	assert.Equal(t, "report-00.pdf exceeds the 5MB limit.", err.Error())
}
