// Package openproject implements tracker.Target for the OpenProject API v3.
package openproject

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/types"
)

// Client writes work packages, users, comments and attachments.
type Client struct {
	http   *tracker.HTTPClient
	logger *zap.Logger
}

var _ tracker.Target = (*Client)(nil)

// NewClient creates an OpenProject client using Basic authentication.
// For API-key auth pass "apikey" as the username and the key as password.
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

// CreateItem implements tracker.Target.
func (c *Client) CreateItem(ctx context.Context, payload *tracker.WritePayload) (int64, error) {
	var out resource
	if err := c.http.DoJSON(ctx, http.MethodPost, apiPrefix+"/work_packages", nil, payload, &out); err != nil {
		return 0, err
	}
	id := out.id()
	if id == 0 {
		return 0, fmt.Errorf("work package create returned no id")
	}
	return id, nil
}

// UpdateItem implements tracker.Target. OpenProject rejects updates
// without the current lockVersion, so it is read first.
func (c *Client) UpdateItem(ctx context.Context, id int64, payload *tracker.WritePayload) (int64, error) {
	path := fmt.Sprintf("%s/work_packages/%d", apiPrefix, id)

	var current resource
	if err := c.http.DoJSON(ctx, http.MethodGet, path, nil, nil, &current); err != nil {
		return 0, fmt.Errorf("reading lock version: %w", err)
	}

	body := *payload
	body.LockVersion = current.LockVersion
	if body.LockVersion == nil {
		zero := 0
		body.LockVersion = &zero
	}

	var out resource
	if err := c.http.DoJSON(ctx, http.MethodPatch, path, nil, &body, &out); err != nil {
		return 0, err
	}
	return out.id(), nil
}

// FindUser implements tracker.Target. The login is tried first, then the
// email.
func (c *Client) FindUser(ctx context.Context, login, email string) (int64, bool, error) {
	if login == "" && email == "" {
		return 0, false, fmt.Errorf("login or email is required to look up a user")
	}
	for _, f := range []struct{ field, value string }{{"login", login}, {"email", email}} {
		if f.value == "" {
			continue
		}
		id, ok, err := c.findUserBy(ctx, f.field, f.value)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}

func (c *Client) findUserBy(ctx context.Context, field, value string) (int64, bool, error) {
	filters, err := json.Marshal([]filter{{field: {Operator: "=", Values: []string{value}}}})
	if err != nil {
		return 0, false, err
	}
	params := url.Values{"filters": {string(filters)}, "pageSize": {"1"}}

	var out collection
	if err := c.http.DoJSON(ctx, http.MethodGet, apiPrefix+"/users", params, nil, &out); err != nil {
		return 0, false, err
	}
	if len(out.Embedded.Elements) == 0 {
		return 0, false, nil
	}
	return out.Embedded.Elements[0].id(), true, nil
}

// CreateUser implements tracker.Target. It needs an administrator account.
func (c *Client) CreateUser(ctx context.Context, profile *types.User) (int64, error) {
	body := userCreate{
		Login:     profile.Login,
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Status:    "active",
	}
	if body.Login == "" {
		body.Login = profile.Email
	}

	var out resource
	if err := c.http.DoJSON(ctx, http.MethodPost, apiPrefix+"/users", nil, body, &out); err != nil {
		return 0, err
	}
	id := out.id()
	if id == 0 {
		return 0, fmt.Errorf("user create returned no id")
	}
	c.logger.Info("created user", zap.String("login", body.Login), zap.Int64("id", id))
	return id, nil
}

// CreateComment implements tracker.Target.
func (c *Client) CreateComment(ctx context.Context, itemID int64, text string) (int64, error) {
	var body commentCreate
	body.Comment.Raw = text

	var out resource
	path := fmt.Sprintf("%s/work_packages/%d/activities", apiPrefix, itemID)
	if err := c.http.DoJSON(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return 0, err
	}
	return out.id(), nil
}

// UploadAttachment implements tracker.Target. The file is streamed as a
// multipart body and re-read from disk on retry.
func (c *Client) UploadAttachment(ctx context.Context, itemID int64, path string) (int64, error) {
	name := filepath.Base(path)
	var meta attachmentMetadata
	meta.FileName = name
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}

	boundary := multipart.NewWriter(io.Discard).Boundary()
	bodyFn := func() (io.Reader, error) {
		f, err := os.Open(path) // #nosec G304 - path comes from the engine's temp dir
		if err != nil {
			return nil, err
		}
		pr, pw := io.Pipe()
		go func() {
			defer f.Close()
			pw.CloseWithError(writeMultipart(pw, boundary, name, metaJSON, f))
		}()
		return pr, nil
	}

	resp, err := c.http.Do(ctx, tracker.Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("%s/work_packages/%d/attachments", apiPrefix, itemID),
		Body:        bodyFn,
		ContentType: "multipart/form-data; boundary=" + boundary,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var out resource
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to parse attachment response: %w", err)
	}
	id := out.id()
	if id == 0 {
		return 0, fmt.Errorf("attachment upload returned no id")
	}
	return id, nil
}

func writeMultipart(w io.Writer, boundary, filename string, metadata []byte, file io.Reader) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(boundary); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="metadata"`)
	h.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, bytes.NewReader(metadata)); err != nil {
		return err
	}

	part, err = mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// ListProjects implements tracker.Target.
func (c *Client) ListProjects(ctx context.Context) ([]tracker.ProjectInfo, error) {
	var projects []tracker.ProjectInfo
	for page := 1; ; page++ {
		params := url.Values{
			"pageSize": {strconv.Itoa(DefaultProjectPageSize)},
			"offset":   {strconv.Itoa(page)},
		}
		var out collection
		if err := c.http.DoJSON(ctx, http.MethodGet, apiPrefix+"/projects", params, nil, &out); err != nil {
			return nil, err
		}
		for _, el := range out.Embedded.Elements {
			name := el.Name
			if name == "" {
				name = el.Identifier
			}
			projects = append(projects, tracker.ProjectInfo{
				ID:         el.ID.String(),
				Identifier: el.Identifier,
				Name:       name,
			})
		}
		if len(out.Embedded.Elements) < DefaultProjectPageSize {
			return projects, nil
		}
	}
}

// Ping implements tracker.Target.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{"pageSize": {"1"}}
	return c.http.DoJSON(ctx, http.MethodGet, apiPrefix+"/projects", params, nil, nil)
}
