package database

import (
	"time"
)

// AssessmentSession is the persisted journal of one proctored exam
// attempt. The live state machine owns the in-memory truth; rows here
// are written on creation, on every violation, and on terminal
// transitions.
type AssessmentSession struct {
	ID                string `gorm:"primaryKey;size:36"`
	CandidateID       string `gorm:"index;size:64"`
	QuestionSetID     string `gorm:"size:64"`
	State             string `gorm:"size:32"`
	TerminationReason string `gorm:"size:32"`
	DurationSeconds   int
	RemainingSeconds  int
	ViolationCount    int
	Score             float64
	Disqualified      bool
	TimeTakenSeconds  int
	SubmitAttempts    int
	SubmitError       string `gorm:"type:text"`
	StartedAt         *time.Time
	FinalizedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Recording is metadata for one finalized capture blob stored on disk.
// UploadURL is filled in once the Candidate Record Service accepts it.
type Recording struct {
	ID        string `gorm:"primaryKey;size:36"`
	SessionID string `gorm:"index;size:36"`
	Kind      string `gorm:"size:16"`
	Filename  string `gorm:"size:255"`
	Path      string `gorm:"size:512"`
	SizeBytes int64
	SHA256    string `gorm:"size:64"`
	UploadURL string `gorm:"size:512"`
	CreatedAt time.Time
}

// ProctorNotice journals advisory proctoring signals: blocked
// shortcuts, unexpected stream ends, and counted visibility losses.
// Only visibility losses have Counted=true.
type ProctorNotice struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index;size:36"`
	Kind       string `gorm:"size:48"`
	Detail     string `gorm:"size:255"`
	Counted    bool
	DetectedAt time.Time
}
