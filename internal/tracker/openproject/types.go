package openproject

import (
	"encoding/json"
	"strconv"
)

// API constants.
const (
	// ServiceName identifies OpenProject in errors and logs.
	ServiceName = "openproject"

	apiPrefix = "/api/v3"

	// DefaultProjectPageSize is the page size used when listing projects.
	DefaultProjectPageSize = 50
)

// resource is the part of a HAL resource the client reads back.
type resource struct {
	ID          json.Number `json:"id"`
	LockVersion *int        `json:"lockVersion,omitempty"`
	Login       string      `json:"login,omitempty"`
	Name        string      `json:"name,omitempty"`
	Identifier  string      `json:"identifier,omitempty"`
}

// id returns the numeric id, or 0 when the resource carries none.
func (r *resource) id() int64 {
	n, err := strconv.ParseInt(r.ID.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// collection is a HAL collection response.
type collection struct {
	Total    int `json:"total"`
	Count    int `json:"count"`
	Embedded struct {
		Elements []resource `json:"elements"`
	} `json:"_embedded"`
}

// userCreate is the body of POST /api/v3/users.
type userCreate struct {
	Login     string `json:"login"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Status    string `json:"status"`
}

// commentCreate is the body of POST /work_packages/{id}/activities.
type commentCreate struct {
	Comment struct {
		Raw string `json:"raw"`
	} `json:"comment"`
}

// attachmentMetadata is the "metadata" part of an attachment upload.
type attachmentMetadata struct {
	FileName    string `json:"fileName"`
	Description struct {
		Raw string `json:"raw"`
	} `json:"description"`
}

// filter is one entry of an OpenProject filters query parameter.
type filter map[string]struct {
	Operator string   `json:"operator"`
	Values   []string `json:"values"`
}
