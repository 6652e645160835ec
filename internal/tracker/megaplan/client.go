// Package megaplan implements tracker.Source for the Megaplan REST API.
package megaplan

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/mpsync/internal/tracker"
)

// Client reads tasks, comments, files and users from Megaplan.
type Client struct {
	http   *tracker.HTTPClient
	logger *zap.Logger
}

var _ tracker.Source = (*Client)(nil)

// NewClient creates a Megaplan client using Basic authentication.
func NewClient(baseURL, username, password string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   tracker.NewHTTPClient(ServiceName, baseURL, username, password, timeout, maxRetries, logger),
		logger: logger,
	}
}

// HTTP exposes the underlying HTTP client, for tuning in tests.
func (c *Client) HTTP() *tracker.HTTPClient {
	return c.http
}

// Authenticate checks that credentials are configured. Megaplan uses Basic
// auth on every request, so rejected credentials surface as *AuthError on
// the first call.
func (c *Client) Authenticate(_ context.Context) error {
	if c.http.Username == "" || c.http.Password == "" {
		return &tracker.AuthError{Service: ServiceName, Reason: "username and password must be configured"}
	}
	return nil
}

// IterateTasks implements tracker.Source.
func (c *Client) IterateTasks(ctx context.Context, projectID string, pageSize int, since *time.Time, fn func(tracker.Record) error) error {
	params := url.Values{}
	params.Set("project", projectID)
	params.Set("limit", strconv.Itoa(pageSize))
	if since != nil {
		params.Set("updated_after", since.UTC().Format(updatedAfterLayout))
	}

	return c.paginate(ctx, "/tasks", params, func(items []tracker.Record) error {
		for _, item := range items {
			if err := fn(item); err != nil {
				return err
			}
		}
		return nil
	})
}

// paginate follows the "next" offset until the last page.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, page func([]tracker.Record) error) error {
	offset := ""
	for pageNum := 1; ; pageNum++ {
		if offset != "" {
			params.Set("offset", offset)
		} else {
			params.Del("offset")
		}

		var env listEnvelope
		if err := c.http.DoJSON(ctx, http.MethodGet, path, params, nil, &env); err != nil {
			return err
		}
		c.logger.Debug("fetched page",
			zap.String("path", path), zap.Int("page", pageNum), zap.Int("items", len(env.Data.Items)))

		if err := page(env.Data.Items); err != nil {
			return err
		}

		next := env.nextOffset()
		if next == "" {
			return nil
		}
		if next == offset {
			return fmt.Errorf("%s pagination stuck at offset %q", path, next)
		}
		offset = next
	}
}

func (c *Client) getItems(ctx context.Context, path string, params url.Values) ([]tracker.Record, error) {
	var env listEnvelope
	if err := c.http.DoJSON(ctx, http.MethodGet, path, params, nil, &env); err != nil {
		return nil, err
	}
	return env.Data.Items, nil
}

// GetComments implements tracker.Source.
func (c *Client) GetComments(ctx context.Context, taskID string) ([]tracker.Record, error) {
	return c.getItems(ctx, "/tasks/"+url.PathEscape(taskID)+"/comments", nil)
}

// GetFiles implements tracker.Source.
func (c *Client) GetFiles(ctx context.Context, taskID string) ([]tracker.Record, error) {
	return c.getItems(ctx, "/tasks/"+url.PathEscape(taskID)+"/files", nil)
}

// DownloadFile implements tracker.Source.
func (c *Client) DownloadFile(ctx context.Context, fileID, dest string) error {
	return c.http.Download(ctx, "/files/"+url.PathEscape(fileID)+"/download", dest)
}

// GetUsers implements tracker.Source.
func (c *Client) GetUsers(ctx context.Context, ids []string) ([]tracker.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return c.getItems(ctx, "/users", url.Values{"ids": {strings.Join(ids, ",")}})
}

// ListProjects implements tracker.Source.
func (c *Client) ListProjects(ctx context.Context) ([]tracker.ProjectInfo, error) {
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}
	params := url.Values{"limit": {strconv.Itoa(DefaultProjectPageSize)}}

	var projects []tracker.ProjectInfo
	err := c.paginate(ctx, "/projects", params, func(items []tracker.Record) error {
		for _, item := range items {
			projects = append(projects, tracker.ProjectInfo{
				ID:   firstString(item, "id", "Id", "uuid"),
				Name: firstString(item, "name", "Name"),
			})
		}
		return nil
	})
	return projects, err
}

func firstString(r tracker.Record, keys ...string) string {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}
