package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/steveyegge/mpsync/internal/types"
)

// fieldTable lists, for each logical field, the raw keys to try in order.
// Current snake_case keys come first, legacy CamelCase keys after them.
// The first key that is present with a non-empty value wins.
type fieldTable map[string][]string

var taskFields = fieldTable{
	"id":          {"id", "TaskId"},
	"name":        {"name", "Name", "title"},
	"description": {"description", "Description"},
	"status":      {"status", "Status"},
	"project_id":  {"project_id", "Project", "project"},
	"author_id":   {"author_id", "Author"},
	"assignee_id": {"responsible_id", "Responsible"},
	"parent_id":   {"parent_id", "ParentTask"},
	"created_at":  {"created_at", "CreatedAt"},
	"updated_at":  {"updated_at", "UpdatedAt"},
	"start_date":  {"start_date", "StartDate"},
	"due_date":    {"due_date", "FinishDate"},
}

var commentFields = fieldTable{
	"id":         {"id", "CommentId"},
	"author_id":  {"author_id", "Author"},
	"body":       {"text", "Body"},
	"created_at": {"created_at", "CreatedAt"},
}

var attachmentFields = fieldTable{
	"id":           {"id", "FileId"},
	"filename":     {"name", "FileName"},
	"size":         {"size", "FileSize"},
	"download_url": {"download_url", "DownloadUrl"},
}

var userFields = fieldTable{
	"id":         {"id", "UserId"},
	"login":      {"login", "Login"},
	"email":      {"email", "Email"},
	"first_name": {"first_name", "FirstName"},
	"last_name":  {"last_name", "LastName"},
}

// timeLayouts are tried in order when reading source timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

const payloadDateLayout = "2006-01-02"

// Mapper translates raw source records into canonical entities and
// canonical tasks into target write payloads. Apart from its status table
// it is stateless.
type Mapper struct {
	// StatusMapping maps a source status to a target status ID.
	// Unmapped statuses are left for the target to default.
	StatusMapping map[string]string

	now func() time.Time
}

// NewMapper creates a mapper with the given status table.
func NewMapper(statusMapping map[string]string) *Mapper {
	if statusMapping == nil {
		statusMapping = map[string]string{}
	}
	return &Mapper{StatusMapping: statusMapping, now: time.Now}
}

// TaskToCanonical converts a raw task record. The record may be wrapped in
// a "data" envelope. A record without an id is rejected.
func (m *Mapper) TaskToCanonical(raw Record) (*types.Task, error) {
	fields := unwrap(raw)
	id := taskFields.str(fields, "id")
	if id == "" {
		return nil, fmt.Errorf("task record has no id")
	}

	task := &types.Task{
		ID:          id,
		ProjectID:   taskFields.str(fields, "project_id"),
		Name:        taskFields.str(fields, "name"),
		Description: taskFields.str(fields, "description"),
		Status:      taskFields.str(fields, "status"),
		AuthorID:    taskFields.str(fields, "author_id"),
		AssigneeID:  taskFields.str(fields, "assignee_id"),
		ParentID:    taskFields.str(fields, "parent_id"),
		CreatedAt:   taskFields.timestamp(fields, "created_at"),
		UpdatedAt:   taskFields.timestamp(fields, "updated_at"),
		StartDate:   taskFields.timestamp(fields, "start_date"),
		DueDate:     taskFields.timestamp(fields, "due_date"),
	}
	if task.Name == "" {
		task.Name = types.DefaultTaskName(id)
	}
	if task.Status == "" {
		task.Status = types.DefaultStatus
	}
	return task, nil
}

// CommentToCanonical converts a raw comment record. A comment without a
// creation time is stamped with the current time.
func (m *Mapper) CommentToCanonical(raw Record) (*types.Comment, error) {
	fields := unwrap(raw)
	id := commentFields.str(fields, "id")
	if id == "" {
		return nil, fmt.Errorf("comment record has no id")
	}

	c := &types.Comment{
		ID:       id,
		AuthorID: commentFields.str(fields, "author_id"),
		Body:     commentFields.str(fields, "body"),
	}
	if t := commentFields.timestamp(fields, "created_at"); t != nil {
		c.CreatedAt = *t
	} else {
		c.CreatedAt = m.now().UTC()
	}
	return c, nil
}

// AttachmentToCanonical converts a raw file descriptor. The filename
// defaults to the id and the size to zero.
func (m *Mapper) AttachmentToCanonical(raw Record) (*types.Attachment, error) {
	fields := unwrap(raw)
	id := attachmentFields.str(fields, "id")
	if id == "" {
		return nil, fmt.Errorf("attachment record has no id")
	}

	a := &types.Attachment{
		ID:          id,
		Filename:    attachmentFields.str(fields, "filename"),
		Size:        attachmentFields.integer(fields, "size"),
		DownloadURL: attachmentFields.str(fields, "download_url"),
	}
	if a.Filename == "" {
		a.Filename = id
	}
	return a, nil
}

// UserToCanonical converts a raw user profile.
func (m *Mapper) UserToCanonical(raw Record) (*types.User, error) {
	fields := unwrap(raw)
	id := userFields.str(fields, "id")
	if id == "" {
		return nil, fmt.Errorf("user record has no id")
	}
	return &types.User{
		ID:        id,
		Login:     userFields.str(fields, "login"),
		Email:     userFields.str(fields, "email"),
		FirstName: userFields.str(fields, "first_name"),
		LastName:  userFields.str(fields, "last_name"),
	}, nil
}

// ToWritePayload builds the work package body for a task. Zero IDs mean
// "absent": no type, parent or assignee link is emitted for them.
func (m *Mapper) ToWritePayload(task *types.Task, projectID, typeID, parentID, assigneeID int64) *WritePayload {
	p := &WritePayload{
		Subject:     task.Name,
		Description: Formattable{Raw: task.Description},
		Links: WriteLinks{
			Project: Link{Href: fmt.Sprintf("/api/v3/projects/%d", projectID)},
		},
	}
	if statusID, ok := m.StatusMapping[task.Status]; ok && statusID != "" {
		p.Links.Status = &Link{Href: "/api/v3/statuses/" + statusID}
	}
	if typeID != 0 {
		p.Links.Type = &Link{Href: fmt.Sprintf("/api/v3/types/%d", typeID)}
	}
	if assigneeID != 0 {
		p.Links.Assignee = &Link{Href: fmt.Sprintf("/api/v3/users/%d", assigneeID)}
	}
	if parentID != 0 {
		p.Links.Parent = &Link{Href: fmt.Sprintf("/api/v3/work_packages/%d", parentID)}
	}
	if task.StartDate != nil {
		p.StartDate = task.StartDate.Format(payloadDateLayout)
	}
	if task.DueDate != nil {
		p.DueDate = task.DueDate.Format(payloadDateLayout)
	}
	return p
}

// unwrap returns the "data" envelope when present.
func unwrap(raw Record) Record {
	if inner, ok := raw["data"].(map[string]interface{}); ok {
		return inner
	}
	return raw
}

// value returns the first present, non-empty value among the field's keys.
// Nested objects stand for their "id".
func (ft fieldTable) value(raw Record, field string) (interface{}, bool) {
	for _, key := range ft[field] {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if obj, isObj := v.(map[string]interface{}); isObj {
			v = obj["id"]
		}
		if isEmpty(v) {
			continue
		}
		return v, true
	}
	return nil, false
}

func (ft fieldTable) str(raw Record, field string) string {
	v, ok := ft.value(raw, field)
	if !ok {
		return ""
	}
	return toString(v)
}

func (ft fieldTable) integer(raw Record, field string) int64 {
	v, ok := ft.value(raw, field)
	if !ok {
		return 0
	}
	var n int64
	switch x := v.(type) {
	case float64:
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case json.Number:
		n, _ = x.Int64()
	case string:
		n, _ = strconv.ParseInt(x, 10, 64)
	}
	if n < 0 {
		return 0
	}
	return n
}

// timestamp parses the field; unparseable values count as absent.
func (ft fieldTable) timestamp(raw Record, field string) *time.Time {
	v, ok := ft.value(raw, field)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return parseTimestamp(s)
}

func parseTimestamp(s string) *time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return x == 0
	case int:
		return x == 0
	case int64:
		return x == 0
	case json.Number:
		return x == "" || x == "0"
	case bool:
		return !x
	case []interface{}:
		return len(x) == 0
	}
	return false
}

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
