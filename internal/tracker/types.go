package tracker

import (
	"time"

	"github.com/steveyegge/mpsync/internal/types"
)

// SyncOptions configures a sync run.
type SyncOptions struct {
	Projects []types.ProjectMapping

	PageSize           int   // Source page size (default 100)
	AttachmentMaxBytes int64 // Attachments larger than this are skipped
	SyncComments       bool
	SyncAttachments    bool
	DryRun             bool   // Fetch and translate only; no writes anywhere
	TmpDir             string // Parent directory for attachment downloads
	DefaultUserID      int64  // Assignee used when a user cannot be resolved (0 = none)
	ClosedStatuses     []string
}

// ProjectStats counts what happened to one project during a run.
type ProjectStats struct {
	Fetched     int  `json:"fetched"`
	Created     int  `json:"created"`
	Updated     int  `json:"updated"`
	Skipped     int  `json:"skipped"`
	Comments    int  `json:"comments"`
	Attachments int  `json:"attachments"`
	NoChanges   bool `json:"no_changes,omitempty"`
}

// SyncResult is the outcome of Migrate or SyncUpdates. On failure it holds
// the statistics accumulated before the error.
type SyncResult struct {
	Projects   map[string]*ProjectStats `json:"projects"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	DryRun     bool                     `json:"dry_run,omitempty"`
}

// Totals sums the per-project statistics.
func (r *SyncResult) Totals() ProjectStats {
	var t ProjectStats
	for _, s := range r.Projects {
		t.Fetched += s.Fetched
		t.Created += s.Created
		t.Updated += s.Updated
		t.Skipped += s.Skipped
		t.Comments += s.Comments
		t.Attachments += s.Attachments
	}
	return t
}

// Link is a HAL link.
type Link struct {
	Href string `json:"href"`
}

// Formattable is an OpenProject formattable text field.
type Formattable struct {
	Raw string `json:"raw"`
}

// WriteLinks are the relations of a work package write.
type WriteLinks struct {
	Project  Link  `json:"project"`
	Type     *Link `json:"type,omitempty"`
	Status   *Link `json:"status,omitempty"`
	Assignee *Link `json:"assignee,omitempty"`
	Parent   *Link `json:"parent,omitempty"`
}

// WritePayload is the body of a work package create or update.
type WritePayload struct {
	Subject     string      `json:"subject"`
	Description Formattable `json:"description"`
	StartDate   string      `json:"startDate,omitempty"`
	DueDate     string      `json:"dueDate,omitempty"`
	LockVersion *int        `json:"lockVersion,omitempty"`
	Links       WriteLinks  `json:"_links"`
}
