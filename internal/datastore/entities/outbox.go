package entities

import "time"

// QueuedSubmission is an evidence submission that failed to upload and waits
// for background sync.
type QueuedSubmission struct {
	ID           string       `gorm:"primaryKey;size:36" json:"id"`
	OfficerEmail string       `gorm:"size:255;not null" json:"officer_email"`
	EvidenceName string       `gorm:"size:255;not null" json:"evidence_name"`
	Category     string       `gorm:"size:255;not null" json:"category"`
	Indicator    string       `gorm:"size:255;not null" json:"indicator"`
	SubCounty    string       `gorm:"size:255;not null" json:"sub_county"`
	Attempts     int          `gorm:"not null;default:0" json:"attempts"`
	LastError    string       `gorm:"size:1000;default:''" json:"last_error"`
	CreatedAt    time.Time    `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
	Files        []QueuedFile `gorm:"foreignKey:SubmissionID;constraint:OnDelete:CASCADE" json:"files"`
}

// TableName returns the table name for GORM.
func (QueuedSubmission) TableName() string {
	return "outbox_submissions"
}

// QueuedFile holds one attachment of a queued submission.
type QueuedFile struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	SubmissionID string `gorm:"size:36;not null;index" json:"submission_id"`
	Name         string `gorm:"size:255;not null" json:"name"`
	ContentType  string `gorm:"size:100;not null" json:"content_type"`
	Size         int64  `gorm:"not null" json:"size"`
	Data         []byte `gorm:"type:longblob" json:"-"`
	SortOrder    int    `gorm:"not null;default:0" json:"sort_order"`
}

// TableName returns the table name for GORM.
func (QueuedFile) TableName() string {
	return "outbox_files"
}
