// Package tracker holds the reconciliation engine that copies work items
// from a source tracker (Megaplan) into a target tracker (OpenProject).
//
// Adapters live in sub-packages and implement Source or Target. The engine
// never talks HTTP itself; it only sees raw records from the Source, turns
// them into canonical types with the Mapper, and writes through the Target.
package tracker

import (
	"context"
	"time"

	"github.com/steveyegge/mpsync/internal/types"
)

// Record is one raw JSON object as returned by the source API.
type Record = map[string]interface{}

// ProjectInfo is a project as listed by either tracker.
type ProjectInfo struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier,omitempty"`
	Name       string `json:"name"`
}

// Source is the read-only side of a sync.
type Source interface {
	// Authenticate checks credentials. It returns *AuthError when they are
	// missing or rejected.
	Authenticate(ctx context.Context) error

	// IterateTasks calls fn for every task of the project updated after
	// since (all tasks when since is nil), following pagination until the
	// last page. Iteration stops at the first error from fn or the API.
	// Calling it again restarts from the first page.
	IterateTasks(ctx context.Context, projectID string, pageSize int, since *time.Time, fn func(Record) error) error

	// GetComments returns the raw comments of a task.
	GetComments(ctx context.Context, taskID string) ([]Record, error)

	// GetFiles returns the raw attachment descriptors of a task.
	GetFiles(ctx context.Context, taskID string) ([]Record, error)

	// DownloadFile streams the file content to dest.
	DownloadFile(ctx context.Context, fileID, dest string) error

	// GetUsers returns the raw profiles of the given user IDs.
	GetUsers(ctx context.Context, ids []string) ([]Record, error)

	// ListProjects lists the projects visible to the configured account.
	ListProjects(ctx context.Context) ([]ProjectInfo, error)
}

// Target is the write side of a sync.
type Target interface {
	// CreateItem creates a work item and returns its ID.
	CreateItem(ctx context.Context, payload *WritePayload) (int64, error)

	// UpdateItem updates a work item and returns its ID as reported by the
	// tracker (0 when the response carries none).
	UpdateItem(ctx context.Context, id int64, payload *WritePayload) (int64, error)

	// FindUser looks a user up by login or email. ok is false when no user
	// matches.
	FindUser(ctx context.Context, login, email string) (id int64, ok bool, err error)

	// CreateUser creates an active user from a source profile.
	CreateUser(ctx context.Context, profile *types.User) (int64, error)

	// CreateComment posts a comment on a work item. The returned ID is 0
	// when the tracker does not report one.
	CreateComment(ctx context.Context, itemID int64, text string) (int64, error)

	// UploadAttachment uploads a local file to a work item.
	UploadAttachment(ctx context.Context, itemID int64, path string) (int64, error)

	// ListProjects lists the projects visible to the configured account.
	ListProjects(ctx context.Context) ([]ProjectInfo, error)

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error
}
