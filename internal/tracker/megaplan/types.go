package megaplan

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/mpsync/internal/tracker"
)

// API constants.
const (
	// ServiceName identifies Megaplan in errors and logs.
	ServiceName = "megaplan"

	// updatedAfterLayout is the format of the updated_after filter.
	updatedAfterLayout = "2006-01-02T15:04:05-0700"

	// DefaultProjectPageSize is the page size used when listing projects.
	DefaultProjectPageSize = 200
)

// listEnvelope is the shape of every Megaplan list response:
// {"data": {"items": [...], "next": "<offset>"}}.
type listEnvelope struct {
	Data struct {
		Items []tracker.Record `json:"items"`
		Next  interface{}      `json:"next"`
	} `json:"data"`
}

// nextOffset returns the continuation token, or "" on the last page.
func (e *listEnvelope) nextOffset() string {
	switch v := e.Data.Next.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		if v == "0" {
			return ""
		}
		return v.String()
	case bool:
		return ""
	}
	return fmt.Sprint(e.Data.Next)
}
