package store

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// base contains the common fields shared by every row this package owns.
// ID uses UUID v7 (time-ordered) so that primary-key order matches
// insertion order without a separate creation_time sort key.
type base struct {
	ID           uuid.UUID `gorm:"column:uid;type:text;primaryKey"`
	CreationTime time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set and
// stamps CreationTime if the caller left it zero.
func (b *base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	if b.CreationTime.IsZero() {
		b.CreationTime = time.Now().UTC()
	}
	return nil
}

// JobState is the closed state-machine enum shared by every job-shaped
// table (TransferJob, WebpageJob, Snapshot): PENDING -> EXECUTING ->
// {SUCCEEDED, FAILED}.
type JobState string

const (
	StatePending   JobState = "pending"
	StateExecuting JobState = "executing"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Transfer is the raw newline-separated URL blob as submitted by a user.
// Immutable after creation — nothing in this package ever updates a
// Transfer row.
type Transfer struct {
	base
	UserInput string `gorm:"column:user_input;type:text;not null"`
}

func (Transfer) TableName() string { return "transfer" }

// TransferJob tracks the parsing of one Transfer into Webpage and
// WebpageJob rows. Exactly one TransferJob exists per Transfer.
type TransferJob struct {
	base
	TransferID   uuid.UUID  `gorm:"column:transfer_uid;type:text;not null;index"`
	JobState     JobState   `gorm:"column:job_state;not null;default:'pending'"`
	ModifiedTime *time.Time `gorm:"column:modified_time"`
}

func (TransferJob) TableName() string { return "transfer_job" }

// Webpage is a single archived URL. URL is unique after normalization —
// the same URL submitted across any number of transfers resolves to the
// same Webpage row.
type Webpage struct {
	base
	URL                string     `gorm:"column:url;uniqueIndex;not null"`
	Title              *string    `gorm:"column:title"`
	InternetArchiveURL *string    `gorm:"column:internet_archive_url"`
	ModifiedTime       *time.Time `gorm:"column:modified_time"`
}

func (Webpage) TableName() string { return "webpage" }

// NormalizeURL performs the split/unsplit round-trip that canonicalizes a
// URL before it is compared for uniqueness. Two URLs that normalize to the
// same string are the same Webpage.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("store: invalid url %q: %w", raw, err)
	}
	return u.String(), nil
}

// AltTitle is the fallback display title derived from a webpage's URL
// components when no title has been extracted yet: host, path, and query
// joined with a space. Mirrors the presentation fallback the dashboard
// (out of scope here) relies on when Title is still NULL.
func AltTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parts := make([]string, 0, 3)
	if u.Host != "" {
		parts = append(parts, u.Host)
	}
	if u.Path != "" {
		parts = append(parts, u.Path)
	}
	if u.RawQuery != "" {
		parts = append(parts, u.RawQuery)
	}
	return strings.Join(parts, " ")
}

// SafeTitle returns the webpage's extracted title, falling back to
// AltTitle when no title has been derived yet.
func (w Webpage) SafeTitle() string {
	if w.Title != nil && strings.TrimSpace(*w.Title) != "" {
		return *w.Title
	}
	return AltTitle(w.URL)
}

// WebpageTransferJobAssociation is the many-to-many join: a URL may appear
// across any number of transfers, and a transfer enumerates many webpages.
type WebpageTransferJobAssociation struct {
	WebpageID     uuid.UUID `gorm:"column:webpage_uid;type:text;primaryKey"`
	TransferJobID uuid.UUID `gorm:"column:transfer_job_uid;type:text;primaryKey"`
}

func (WebpageTransferJobAssociation) TableName() string { return "webpage_transfer_job_association" }

// WebpageJob tracks one pass of strategy enumeration for a webpage: on
// success it has created one Snapshot per known strategy. A webpage may
// accumulate several WebpageJob rows, one per transfer-job enumeration
// that reached it.
type WebpageJob struct {
	base
	WebpageID    uuid.UUID  `gorm:"column:webpage_uid;type:text;not null;index"`
	JobState     JobState   `gorm:"column:job_state;not null;default:'pending'"`
	ModifiedTime *time.Time `gorm:"column:modified_time"`
}

func (WebpageJob) TableName() string { return "webpage_job" }

// Snapshot is a single archival attempt: one (webpage, strategy) pair sent
// over the bus to a worker once and recorded here. A webpage accumulates
// one Snapshot per strategy per WebpageJob enumeration that reached it.
type Snapshot struct {
	base
	WebpageID    uuid.UUID  `gorm:"column:webpage_uid;type:text;not null;index"`
	Strategy     int        `gorm:"column:strategy;not null;index"`
	JobState     JobState   `gorm:"column:job_state;not null;default:'pending';index"`
	ModifiedTime *time.Time `gorm:"column:modified_time"`
	Result       *string    `gorm:"column:result;type:text"` // JSON: {"rc": int, "help": string}
	Stdout       *string    `gorm:"column:stdout;type:text"`
	Stderr       *string    `gorm:"column:stderr;type:text"`
}

func (Snapshot) TableName() string { return "snapshot" }
