package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/mpsync/internal/config"
	"github.com/steveyegge/mpsync/internal/lockfile"
	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/tracker/testutil"
)

// isolateEnv blanks every variable the config layer and telemetry read.
// viper ignores empty values.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"MEGAPLAN_USERNAME", "MEGAPLAN_PASSWORD",
		"OPENPROJECT_USERNAME", "OPENPROJECT_PASSWORD",
		"MPSYNC_OTEL_ENABLED", "MPSYNC_OTEL_STDOUT",
	} {
		t.Setenv(name, "")
	}
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, config.EnvPrefix+"_") {
			t.Setenv(name, "")
		}
	}
}

// fixture is a temp config wired to a mock Megaplan and a mock OpenProject.
type fixture struct {
	dir        string
	configPath string
	stateDB    string
	megaplan   *testutil.MockTrackerServer
	op         *testutil.MockTrackerServer
	nextID     atomic.Int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	isolateEnv(t)

	f := &fixture{
		dir:      t.TempDir(),
		megaplan: testutil.NewMockTrackerServer(),
		op:       testutil.NewMockTrackerServer(),
	}
	t.Cleanup(f.megaplan.Close)
	t.Cleanup(f.op.Close)
	f.nextID.Store(99)
	f.stateDB = filepath.Join(f.dir, "state", "sync.sqlite")

	f.megaplan.SetResponse("GET /tasks", http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "2", "name": "Child", "parent_id": "1", "status": "open"},
				{"id": "1", "name": "Parent", "status": "open"},
				{"id": "3", "name": "Old", "status": "done"},
			},
			"next": nil,
		},
	})
	f.megaplan.SetResponse("GET /projects", http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"items": []map[string]interface{}{{"id": "P1", "name": "Support"}},
		},
	})

	f.op.SetResponse("GET /api/v3/projects", http.StatusOK, map[string]interface{}{
		"_embedded": map[string]interface{}{
			"elements": []map[string]interface{}{{"id": 7, "identifier": "support", "name": "Support"}},
		},
	})
	f.op.SetDefaultHandler(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v3/work_packages":
			testutil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"id": f.nextID.Add(1)})
		case strings.HasPrefix(r.URL.Path, "/api/v3/work_packages/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/v3/work_packages/")
			testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": json.Number(id), "lockVersion": 3})
		default:
			testutil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		}
	})

	f.configPath = filepath.Join(f.dir, "config.yaml")
	content := fmt.Sprintf(`megaplan:
  base_url: %s
  username: mp
  password: mp-secret
openproject:
  base_url: %s
  username: apikey
  password: op-secret
projects:
  - megaplan_id: P1
    openproject_id: 7
sync:
  sync_comments: false
  sync_attachments: false
  dry_run: false
  tmp_dir: %s
  closed_statuses: [done]
state_db: %s
http:
  timeout: 5s
  max_retries: 0
`, f.megaplan.URL(), f.op.URL(), filepath.Join(f.dir, "tmp"), f.stateDB)
	require.NoError(t, os.WriteFile(f.configPath, []byte(content), 0o600))
	return f
}

// run executes the CLI and returns stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", f.configPath}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"-q"}, args...))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decodeResult(t *testing.T, out string) *tracker.SyncResult {
	t.Helper()
	var r tracker.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &r), out)
	return &r
}

func workPackagePosts(srv *testutil.MockTrackerServer) []testutil.RecordedRequest {
	var posts []testutil.RecordedRequest
	for _, r := range srv.GetRequests() {
		if r.Method == http.MethodPost && r.Path == "/api/v3/work_packages" {
			posts = append(posts, r)
		}
	}
	return posts
}

func TestMigrateThenSyncThenStatus(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "migrate", "--json")
	require.NoError(t, err)
	result := decodeResult(t, out)
	require.Contains(t, result.Projects, "P1")
	stats := result.Projects["P1"]
	assert.Equal(t, 3, stats.Fetched)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Skipped)
	assert.False(t, result.DryRun)

	posts := workPackagePosts(f.op)
	require.Len(t, posts, 2)
	var first, second map[string]interface{}
	require.NoError(t, json.Unmarshal(posts[0].Body, &first))
	require.NoError(t, json.Unmarshal(posts[1].Body, &second))
	assert.Equal(t, "Parent", first["subject"])
	assert.Equal(t, "Child", second["subject"])
	assert.Contains(t, string(posts[1].Body), "/api/v3/work_packages/100")
	assert.Equal(t, "apikey", posts[0].Username)

	_, err = os.Stat(lockfile.PathFor(f.stateDB))
	require.NoError(t, err)

	f.megaplan.Reset()
	f.op.Reset()
	f.serveUpdates()

	out, err = f.run(t, "sync", "--json")
	require.NoError(t, err)
	stats = decodeResult(t, out).Projects["P1"]
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	assert.Empty(t, workPackagePosts(f.op))
	var patched int
	for _, r := range f.op.GetRequests() {
		if r.Method == http.MethodPatch && r.Path == "/api/v3/work_packages/100" {
			patched++
			assert.Contains(t, string(r.Body), "Parent renamed")
			assert.Contains(t, string(r.Body), `"lockVersion":3`)
		}
	}
	assert.Equal(t, 1, patched)

	taskReq := f.megaplan.GetRequests()[0]
	assert.Equal(t, "/tasks", taskReq.Path)
	assert.NotEmpty(t, taskReq.Query.Get("updated_after"))

	out, err = f.run(t, "status", "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Exists)
	assert.Equal(t, 2, report.Mappings["task"])
	assert.Equal(t, 0, report.Mappings["user"])
	assert.Contains(t, report.Watermarks, "P1")
	assert.Empty(t, report.Unmapped)
}

// serveUpdates replaces the fixture responses after Reset: task 1 was
// renamed and task 3 is gone from the changed set.
func (f *fixture) serveUpdates() {
	f.megaplan.SetResponse("GET /tasks", http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"items": []map[string]interface{}{
				{"id": "1", "name": "Parent renamed", "status": "open"},
				{"id": "2", "name": "Child", "parent_id": "1", "status": "open"},
			},
		},
	})
	f.op.SetDefaultHandler(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			testutil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"id": f.nextID.Add(1)})
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v3/work_packages/")
		testutil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": json.Number(id), "lockVersion": 3})
	})
}

func TestMigrateDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "migrate", "--dry-run", "--json")
	require.NoError(t, err)
	result := decodeResult(t, out)
	assert.True(t, result.DryRun)
	assert.Equal(t, 0, result.Projects["P1"].Created)
	assert.Empty(t, f.op.GetRequests())

	out, err = f.run(t, "status", "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.Watermarks)
	assert.Equal(t, []string{"P1"}, report.Unmapped)
}

func TestMigrateTableOutput(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "migrate", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "PROJECT")
	assert.Contains(t, out, "P1")
	assert.Contains(t, out, "dry run")
}

func TestSyncFailurePrintsPartialStats(t *testing.T) {
	f := newFixture(t)
	f.op.SetAuthError(true)

	out, err := f.run(t, "sync", "--json")
	require.Error(t, err)
	var ae *tracker.AuthError
	assert.True(t, errors.As(err, &ae))
	assert.Contains(t, errorHint(err), "credentials")

	result := decodeResult(t, out)
	assert.Equal(t, 3, result.Projects["P1"].Fetched)
	assert.False(t, result.FinishedAt.IsZero())

	out, err = f.run(t, "status", "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.Watermarks)
}

func TestSyncRejectsBadSince(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "sync", "--since", "definitely-not-a-time")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")
	assert.Empty(t, f.megaplan.GetRequests())
}

func TestSyncSinceOverridesWatermark(t *testing.T) {
	f := newFixture(t)

	_, err := f.run(t, "sync", "--since", "2024-05-01T12:00:00Z", "--dry-run", "--json")
	require.NoError(t, err)
	req := f.megaplan.GetRequests()[0]
	assert.Equal(t, "2024-05-01T12:00:00+0000", req.Query.Get("updated_after"))
}

func TestSyncHonoursRunLock(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(f.stateDB), 0o750))

	lock := lockfile.New(f.stateDB)
	require.NoError(t, lock.TryAcquire("test"))
	defer func() { _ = lock.Release() }()

	_, err := f.run(t, "sync")
	require.Error(t, err)
	assert.ErrorIs(t, err, lockfile.ErrLockBusy)
	assert.Empty(t, f.megaplan.GetRequests())
}

func TestStatusWithoutStateDatabase(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No state database")
	_, err = os.Stat(f.stateDB)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestProjects(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "projects", "--json")
	require.NoError(t, err)
	var rows []projectRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, projectRow{Source: "megaplan", ID: "P1", Name: "Support", MappedTo: "7"}, rows[0])
	assert.Equal(t, projectRow{Source: "openproject", ID: "7", Identifier: "support", Name: "Support", MappedTo: "P1"}, rows[1])

	out, err = f.run(t, "projects", "--source", "openproject")
	require.NoError(t, err)
	assert.Contains(t, out, "support")
	assert.NotContains(t, out, "megaplan")

	_, err = f.run(t, "projects", "--source", "jira")
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "verify", "--json")
	require.NoError(t, err)
	var checks []checkResult
	require.NoError(t, json.Unmarshal([]byte(out), &checks))
	require.Len(t, checks, 3)
	for _, c := range checks {
		assert.True(t, c.OK, c.Name)
	}
	assert.Equal(t, "1 project(s) visible", checks[1].Detail)

	f.op.SetServerError(true)
	out, err = f.run(t, "verify")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openproject")
	assert.Contains(t, out, "megaplan")
}

func TestConfigInitValidateShow(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "mpsync.yaml")

	_, err := runCLI(t, "config", "init", path)
	require.NoError(t, err)
	_, err = runCLI(t, "config", "init", path)
	require.Error(t, err)
	_, err = runCLI(t, "config", "init", "--force", path)
	require.NoError(t, err)
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	printed, err := runCLI(t, "config", "init", "--print")
	require.NoError(t, err)
	assert.Equal(t, string(written), printed)

	// The starter leaves credentials blank.
	_, err = runCLI(t, "--config", path, "config", "validate")
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))

	f := newFixture(t)
	out, err := f.run(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 project mapping(s)")

	out, err = f.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "megaplan_id: P1")
	assert.Contains(t, out, "timeout: 5s")
	assert.NotContains(t, out, "mp-secret")
	assert.NotContains(t, out, "op-secret")
}

func TestErrorHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing config", fmt.Errorf("reading: %w", fs.ErrNotExist), "config init"},
		{"invalid config", &config.ValidationError{Path: "c.yaml", Problems: []string{"x"}}, "Fix the configuration"},
		{"auth", fmt.Errorf("wrapped: %w", &tracker.AuthError{Service: "openproject"}), "openproject credentials"},
		{"lock", fmt.Errorf("busy: %w", lockfile.ErrLockBusy), "--lock-timeout"},
		{"other", errors.New("boom"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := errorHint(tt.err)
			if tt.want == "" {
				assert.Empty(t, hint)
				return
			}
			assert.Contains(t, hint, tt.want)
		})
	}
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, fmt.Errorf("lock: %w", lockfile.ErrLockBusy))
	assert.Contains(t, buf.String(), "Error: lock:")
	assert.Contains(t, buf.String(), "Hint:")
}

func TestPrintSyncResultTotals(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	r := &tracker.SyncResult{
		Projects: map[string]*tracker.ProjectStats{
			"A": {Fetched: 2, Created: 2},
			"B": {NoChanges: true},
		},
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
	var buf bytes.Buffer
	require.NoError(t, printSyncResult(&buf, r, false))
	out := buf.String()
	assert.Contains(t, out, "total")
	assert.Contains(t, out, "no changes")
	assert.Contains(t, out, "2 project(s) in 1.5s")
	assert.NotContains(t, out, "dry run")
}

func TestDryRunOverride(t *testing.T) {
	tests := []struct {
		args []string
		want *bool
	}{
		{nil, nil},
		{[]string{"--dry-run"}, boolPtr(true)},
		{[]string{"--no-dry-run"}, boolPtr(false)},
	}
	for _, tt := range tests {
		cmd := newMigrateCmd(&rootOptions{})
		require.NoError(t, cmd.ParseFlags(tt.args))
		assert.Equal(t, tt.want, dryRunOverride(cmd), "%v", tt.args)
	}
}

func boolPtr(b bool) *bool { return &b }
