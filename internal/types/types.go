// Package types defines the canonical entities shared by the translator,
// the identity store and the sync engine.
//
// These types are source-API agnostic: tracker adapters produce raw records,
// the mapper turns them into these structs, and the engine only ever works
// with the canonical form.
package types

import (
	"fmt"
	"time"
)

// User is a person referenced by a task (author, assignee) or comment.
// Two user records describe the same person when their IDs match.
type User struct {
	ID        string `json:"id"`
	Login     string `json:"login,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// HasLookupKey reports whether the user can be searched for in the target
// tracker. Lookup needs a login or an email.
func (u *User) HasLookupKey() bool {
	return u != nil && (u.Login != "" || u.Email != "")
}

// Comment belongs to exactly one task.
type Comment struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Attachment is a file attached to exactly one task.
type Attachment struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"` // bytes, never negative
	DownloadURL string `json:"download_url,omitempty"`
}

// Task is a work item of the source tracker.
type Task struct {
	ID          string        `json:"id"`
	ProjectID   string        `json:"project_id,omitempty"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      string        `json:"status"`
	AuthorID    string        `json:"author_id,omitempty"`
	AssigneeID  string        `json:"assignee_id,omitempty"`
	ParentID    string        `json:"parent_id,omitempty"`
	CreatedAt   *time.Time    `json:"created_at,omitempty"`
	UpdatedAt   *time.Time    `json:"updated_at,omitempty"`
	StartDate   *time.Time    `json:"start_date,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	Comments    []*Comment    `json:"comments,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`
}

// Defaults applied by the mapper when the source omits a field.
const (
	DefaultStatus = "unknown"
)

// DefaultTaskName is the fallback name for a task without one.
func DefaultTaskName(id string) string {
	return fmt.Sprintf("Task %s", id)
}

// HasParent reports whether the task references a parent task.
func (t *Task) HasParent() bool {
	return t.ParentID != ""
}

// ProjectMapping pairs a source project with a target project.
// Mappings are configured, never discovered.
type ProjectMapping struct {
	SourceID      string `json:"megaplan_id"`
	TargetID      int64  `json:"openproject_id"`
	IncludeClosed bool   `json:"include_closed"`
	TargetTypeID  int64  `json:"type_id,omitempty"` // 0 = target default type
}

// EntityKind names one identity-mapping namespace.
type EntityKind string

// Identity namespaces. Each kind is an independent key space.
const (
	KindTask       EntityKind = "task"
	KindUser       EntityKind = "user"
	KindAttachment EntityKind = "attachment"
	KindComment    EntityKind = "comment"
)

// AllKinds lists every identity namespace in a stable order.
var AllKinds = []EntityKind{KindTask, KindUser, KindAttachment, KindComment}

// IsValid checks if the kind is one of the known namespaces.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindTask, KindUser, KindAttachment, KindComment:
		return true
	}
	return false
}

// CommentKey builds the identity key of a comment. Comment IDs are only
// unique within a task, so the key is scoped by the task ID.
func CommentKey(taskID, commentID string) string {
	return taskID + ":" + commentID
}
