package tracker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/mpsync/internal/storage/memory"
	"github.com/steveyegge/mpsync/internal/types"
)

// mockSource implements Source for testing.
type mockSource struct {
	tasks     []Record
	comments  map[string][]Record
	files     map[string][]Record
	users     map[string]Record
	authErr   error
	fetchErr  error
	usersErr  error
	fetches   int
	sinceSeen []*time.Time
	userCalls int
	downloads []string
}

func newMockSource(tasks ...Record) *mockSource {
	return &mockSource{
		tasks:    tasks,
		comments: make(map[string][]Record),
		files:    make(map[string][]Record),
		users:    make(map[string]Record),
	}
}

func (m *mockSource) Authenticate(_ context.Context) error { return m.authErr }

func (m *mockSource) IterateTasks(_ context.Context, _ string, _ int, since *time.Time, fn func(Record) error) error {
	m.fetches++
	m.sinceSeen = append(m.sinceSeen, since)
	if m.fetchErr != nil {
		return m.fetchErr
	}
	for _, t := range m.tasks {
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockSource) GetComments(_ context.Context, taskID string) ([]Record, error) {
	return m.comments[taskID], nil
}

func (m *mockSource) GetFiles(_ context.Context, taskID string) ([]Record, error) {
	return m.files[taskID], nil
}

func (m *mockSource) DownloadFile(_ context.Context, fileID, dest string) error {
	m.downloads = append(m.downloads, dest)
	return os.WriteFile(dest, []byte("content of "+fileID), 0o600)
}

func (m *mockSource) GetUsers(_ context.Context, ids []string) ([]Record, error) {
	m.userCalls++
	if m.usersErr != nil {
		return nil, m.usersErr
	}
	var out []Record
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *mockSource) ListProjects(_ context.Context) ([]ProjectInfo, error) { return nil, nil }

// mockTarget implements Target for testing.
type mockTarget struct {
	nextID       int64
	created      []*WritePayload
	updated      map[int64]*WritePayload
	comments     map[int64][]string
	uploads      map[int64][]string
	users        map[string]int64
	createdUsers []*types.User
	createErr    error
	uploadErr    error
	calls        int
}

func newMockTarget() *mockTarget {
	return &mockTarget{
		nextID:   100,
		updated:  make(map[int64]*WritePayload),
		comments: make(map[int64][]string),
		uploads:  make(map[int64][]string),
		users:    make(map[string]int64),
	}
}

func (m *mockTarget) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *mockTarget) CreateItem(_ context.Context, p *WritePayload) (int64, error) {
	m.calls++
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.created = append(m.created, p)
	return m.id(), nil
}

func (m *mockTarget) UpdateItem(_ context.Context, id int64, p *WritePayload) (int64, error) {
	m.calls++
	m.updated[id] = p
	return id, nil
}

func (m *mockTarget) FindUser(_ context.Context, login, email string) (int64, bool, error) {
	m.calls++
	if id, ok := m.users[login]; ok && login != "" {
		return id, true, nil
	}
	if id, ok := m.users[email]; ok && email != "" {
		return id, true, nil
	}
	return 0, false, nil
}

func (m *mockTarget) CreateUser(_ context.Context, u *types.User) (int64, error) {
	m.calls++
	m.createdUsers = append(m.createdUsers, u)
	id := m.id()
	m.users[u.Login] = id
	return id, nil
}

func (m *mockTarget) CreateComment(_ context.Context, itemID int64, text string) (int64, error) {
	m.calls++
	m.comments[itemID] = append(m.comments[itemID], text)
	return m.id(), nil
}

func (m *mockTarget) UploadAttachment(_ context.Context, itemID int64, path string) (int64, error) {
	m.calls++
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("file missing at upload: %w", err)
	}
	if m.uploadErr != nil {
		return 0, m.uploadErr
	}
	m.uploads[itemID] = append(m.uploads[itemID], filepath.Base(path))
	return m.id(), nil
}

func (m *mockTarget) ListProjects(_ context.Context) ([]ProjectInfo, error) { return nil, nil }
func (m *mockTarget) Ping(_ context.Context) error                          { return nil }

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, src *mockSource, tgt *mockTarget, store *memory.MemoryStorage, mutate func(*SyncOptions)) *Engine {
	t.Helper()
	opts := SyncOptions{
		Projects:           []types.ProjectMapping{{SourceID: "p1", TargetID: 5}},
		PageSize:           50,
		AttachmentMaxBytes: 1024,
		SyncComments:       true,
		SyncAttachments:    true,
		TmpDir:             t.TempDir(),
		DefaultUserID:      9,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := NewEngine(src, tgt, store, NewMapper(map[string]string{"open": "1"}), opts)
	e.now = func() time.Time { return fixedNow }
	return e
}

func task(id, parent, name string) Record {
	r := Record{"id": id, "name": name, "status": "open"}
	if parent != "" {
		r["parent_id"] = parent
	}
	return r
}

func TestParentCreatedBeforeChild(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("7", "3", "Child"), task("3", "", "Parent"))
	tgt := newMockTarget()
	engine := newTestEngine(t, src, tgt, store, nil)

	result, err := engine.Migrate(ctx)
	require.NoError(t, err)

	stats := result.Projects["p1"]
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Updated)

	require.Len(t, tgt.created, 2)
	assert.Equal(t, "Parent", tgt.created[0].Subject)
	assert.Nil(t, tgt.created[0].Links.Parent)
	assert.Equal(t, "Child", tgt.created[1].Subject)

	parentID, ok, err := store.GetMapping(ctx, types.KindTask, "3")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, tgt.created[1].Links.Parent)
	assert.Equal(t, fmt.Sprintf("/api/v3/work_packages/%d", parentID), tgt.created[1].Links.Parent.Href)

	wm, ok, err := store.GetWatermark(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, wm.Equal(fixedNow))
}

func TestRepeatedRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("7", "3", "Child"), task("3", "", "Parent"))
	src.comments["3"] = []Record{{"id": "c1", "text": "hi", "author_id": "42"}}
	tgt := newMockTarget()

	_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.NoError(t, err)
	createdBefore := len(tgt.created)

	result, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.NoError(t, err)

	stats := result.Projects["p1"]
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 2, stats.Updated)
	assert.Equal(t, 0, stats.Comments, "comments must not be posted twice")
	assert.Len(t, tgt.created, createdBefore)

	n, err := store.CountMappings(ctx, types.KindTask)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateThenUpdateSameItem(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	tgt := newMockTarget()

	src := newMockSource(task("A", "", "First title"))
	_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.NoError(t, err)
	id, _, _ := store.GetMapping(ctx, types.KindTask, "A")

	src.tasks = []Record{task("A", "", "Second title")}
	result, err := newTestEngine(t, src, tgt, store, nil).SyncUpdates(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Projects["p1"].Updated)
	require.Contains(t, tgt.updated, id)
	assert.Equal(t, "Second title", tgt.updated[id].Subject)
	assert.Len(t, tgt.created, 1)
}

func TestOrphanParent(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown parent is dropped", func(t *testing.T) {
		store := memory.New()
		tgt := newMockTarget()
		src := newMockSource(task("5", "99", "Orphan"))
		_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
		require.NoError(t, err)
		require.Len(t, tgt.created, 1)
		assert.Nil(t, tgt.created[0].Links.Parent)
	})

	t.Run("parent from earlier run is linked", func(t *testing.T) {
		store := memory.New()
		require.NoError(t, store.PutMapping(ctx, types.KindTask, "99", 777))
		tgt := newMockTarget()
		src := newMockSource(task("5", "99", "Child of earlier"))
		_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
		require.NoError(t, err)
		require.Len(t, tgt.created, 1)
		require.NotNil(t, tgt.created[0].Links.Parent)
		assert.Equal(t, "/api/v3/work_packages/777", tgt.created[0].Links.Parent.Href)
	})
}

func TestDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "", "One"), task("2", "1", "Two"))
	src.comments["1"] = []Record{{"id": "c1", "text": "x"}}
	tgt := newMockTarget()

	var messages []string
	engine := newTestEngine(t, src, tgt, store, func(o *SyncOptions) { o.DryRun = true })
	engine.OnMessage = func(m string) { messages = append(messages, m) }

	result, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.Projects["p1"].Skipped)
	assert.Equal(t, 0, tgt.calls, "dry run must not call the target")

	for _, k := range types.AllKinds {
		n, err := store.CountMappings(ctx, k)
		require.NoError(t, err)
		assert.Zero(t, n, k)
	}
	_, ok, err := store.GetWatermark(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "[dry-run]")
}

func TestAttachmentSizeGate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "", "With files"))
	src.files["1"] = []Record{
		{"id": "f-small", "name": "small.txt", "size": float64(10)},
		{"id": "f-exact", "name": "exact.bin", "size": float64(1024)},
		{"id": "f-big", "name": "big.iso", "size": float64(1025)},
	}
	tgt := newMockTarget()

	var warnings []string
	engine := newTestEngine(t, src, tgt, store, nil)
	engine.OnWarning = func(m string) { warnings = append(warnings, m) }

	result, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Projects["p1"].Attachments)

	itemID, _, _ := store.GetMapping(ctx, types.KindTask, "1")
	assert.ElementsMatch(t, []string{"small.txt", "exact.bin"}, tgt.uploads[itemID])
	assert.Len(t, src.downloads, 2, "oversized file must not be downloaded")

	_, ok, _ := store.GetMapping(ctx, types.KindAttachment, "f-big")
	assert.False(t, ok)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "big.iso")

	entries, err := os.ReadDir(engine.Options.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp directories must be removed")

	// Second run does not upload again.
	result, err = newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Projects["p1"].Attachments)
}

func TestFailedUploadRemovesTempFile(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "", "With file"))
	src.files["1"] = []Record{{"id": "f1", "name": "report.pdf", "size": float64(10)}}
	tgt := newMockTarget()
	tgt.uploadErr = &RemoteError{Service: "openproject", Method: "POST", StatusCode: 413}

	engine := newTestEngine(t, src, tgt, store, nil)
	_, err := engine.Migrate(ctx)
	require.Error(t, err)
	var re *RemoteError
	assert.True(t, errors.As(err, &re))

	require.Len(t, src.downloads, 1)
	_, statErr := os.Stat(src.downloads[0])
	assert.True(t, os.IsNotExist(statErr), "downloaded file must be removed")
	entries, err := os.ReadDir(engine.Options.TmpDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, ok, err := store.GetMapping(ctx, types.KindAttachment, "f1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.GetWatermark(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommentFooterAndDedup(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "", "Discussed"))
	src.comments["1"] = []Record{
		{"id": "c1", "text": "Looks good", "author_id": "42"},
		{"id": "c2", "Body": "No author"},
	}
	tgt := newMockTarget()

	result, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Projects["p1"].Comments)

	itemID, _, _ := store.GetMapping(ctx, types.KindTask, "1")
	require.Len(t, tgt.comments[itemID], 2)
	assert.Equal(t, "Looks good\n\n_Author: 42_", tgt.comments[itemID][0])
	assert.Equal(t, "No author\n\n_Author: unknown_", tgt.comments[itemID][1])

	_, ok, _ := store.GetMapping(ctx, types.KindComment, types.CommentKey("1", "c1"))
	assert.True(t, ok)

	src.comments["1"] = append(src.comments["1"], Record{"id": "c3", "text": "New"})
	result, err = newTestEngine(t, src, tgt, store, nil).SyncUpdates(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Projects["p1"].Comments)
	assert.Len(t, tgt.comments[itemID], 3)
}

func TestParentCycleAbortsProject(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "2", "A"), task("2", "1", "B"))
	tgt := newMockTarget()

	_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrParentCycle))
	assert.Equal(t, 0, tgt.calls)

	_, ok, _ := store.GetWatermark(ctx, "p1")
	assert.False(t, ok)
}

func TestRemoteErrorKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	old := fixedNow.Add(-24 * time.Hour)
	require.NoError(t, store.SetWatermark(ctx, "p1", old))

	src := newMockSource(task("1", "", "A"))
	tgt := newMockTarget()
	tgt.createErr = &RemoteError{Service: "openproject", Method: "POST", URL: "/api/v3/work_packages", StatusCode: 422, Body: "invalid"}

	result, err := newTestEngine(t, src, tgt, store, nil).SyncUpdates(ctx, nil)
	require.Error(t, err)

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 422, re.StatusCode)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Projects["p1"].Fetched)

	wm, ok, _ := store.GetWatermark(ctx, "p1")
	assert.True(t, ok)
	assert.True(t, wm.Equal(old), "watermark must not advance on failure")
}

func TestFailureStopsLaterProjects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource(task("1", "", "A"))
	tgt := newMockTarget()
	tgt.createErr = errors.New("boom")

	engine := newTestEngine(t, src, tgt, store, func(o *SyncOptions) {
		o.Projects = append(o.Projects, types.ProjectMapping{SourceID: "p2", TargetID: 6})
	})
	result, err := engine.Migrate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project p1")
	assert.NotContains(t, result.Projects, "p2")
	assert.Equal(t, 1, src.fetches)
}

func TestUserResolution(t *testing.T) {
	ctx := context.Background()

	withAssignee := func(id string) Record {
		r := task("1", "", "Assigned")
		r["responsible_id"] = id
		return r
	}

	t.Run("no assignee uses default", func(t *testing.T) {
		tgt := newMockTarget()
		_, err := newTestEngine(t, newMockSource(task("1", "", "A")), tgt, memory.New(), nil).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/api/v3/users/9", tgt.created[0].Links.Assignee.Href)
	})

	t.Run("source failure falls back with warning", func(t *testing.T) {
		src := newMockSource(withAssignee("u1"))
		src.usersErr = errors.New("megaplan down")
		tgt := newMockTarget()
		var warnings []string
		engine := newTestEngine(t, src, tgt, memory.New(), nil)
		engine.OnWarning = func(m string) { warnings = append(warnings, m) }

		_, err := engine.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/api/v3/users/9", tgt.created[0].Links.Assignee.Href)
		assert.Len(t, warnings, 1)
	})

	t.Run("profile without login or email falls back", func(t *testing.T) {
		src := newMockSource(withAssignee("u1"))
		src.users["u1"] = Record{"id": "u1", "first_name": "Ivan"}
		tgt := newMockTarget()
		_, err := newTestEngine(t, src, tgt, memory.New(), nil).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/api/v3/users/9", tgt.created[0].Links.Assignee.Href)
		assert.Empty(t, tgt.createdUsers)
	})

	t.Run("existing target user is found and cached", func(t *testing.T) {
		store := memory.New()
		src := newMockSource(withAssignee("u1"))
		src.users["u1"] = Record{"id": "u1", "login": "ivan"}
		tgt := newMockTarget()
		tgt.users["ivan"] = 55

		_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, "/api/v3/users/55", tgt.created[0].Links.Assignee.Href)
		assert.Empty(t, tgt.createdUsers)

		_, err = newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, src.userCalls, "second run resolves from the store")
	})

	t.Run("missing target user is created", func(t *testing.T) {
		store := memory.New()
		src := newMockSource(withAssignee("u1"))
		src.users["u1"] = Record{"Id": "ignored", "id": "u1", "Email": "ivan@example.com", "FirstName": "Ivan"}
		tgt := newMockTarget()

		_, err := newTestEngine(t, src, tgt, store, nil).Migrate(ctx)
		require.NoError(t, err)
		require.Len(t, tgt.createdUsers, 1)
		assert.Equal(t, "ivan@example.com", tgt.createdUsers[0].Email)

		id, ok, _ := store.GetMapping(ctx, types.KindUser, "u1")
		assert.True(t, ok)
		assert.Equal(t, fmt.Sprintf("/api/v3/users/%d", id), tgt.created[0].Links.Assignee.Href)
	})
}

func TestEmptyFetchAdvancesWatermark(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	src := newMockSource()
	tgt := newMockTarget()

	result, err := newTestEngine(t, src, tgt, store, nil).SyncUpdates(ctx, nil)
	require.NoError(t, err)
	assert.True(t, result.Projects["p1"].NoChanges)

	wm, ok, _ := store.GetWatermark(ctx, "p1")
	assert.True(t, ok)
	assert.True(t, wm.Equal(fixedNow))
}

func TestSyncUpdatesWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	stored := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetWatermark(ctx, "p1", stored))
	src := newMockSource()

	_, err := newTestEngine(t, src, newMockTarget(), store, nil).SyncUpdates(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, src.sinceSeen[0])
	assert.True(t, src.sinceSeen[0].Equal(stored))

	override := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = newTestEngine(t, src, newMockTarget(), store, nil).SyncUpdates(ctx, &override)
	require.NoError(t, err)
	assert.True(t, src.sinceSeen[1].Equal(override))

	_, err = newTestEngine(t, src, newMockTarget(), store, nil).Migrate(ctx)
	require.NoError(t, err)
	assert.Nil(t, src.sinceSeen[2], "migration ignores watermarks")
}

func TestClosedTasksFiltered(t *testing.T) {
	ctx := context.Background()
	closedTask := task("2", "", "Done already")
	closedTask["status"] = "completed"

	t.Run("excluded by default", func(t *testing.T) {
		tgt := newMockTarget()
		src := newMockSource(task("1", "", "Open"), closedTask)
		result, err := newTestEngine(t, src, tgt, memory.New(), func(o *SyncOptions) {
			o.ClosedStatuses = []string{"completed"}
		}).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Projects["p1"].Created)
		assert.Equal(t, 1, result.Projects["p1"].Skipped)
	})

	t.Run("included on request", func(t *testing.T) {
		tgt := newMockTarget()
		src := newMockSource(task("1", "", "Open"), closedTask)
		result, err := newTestEngine(t, src, tgt, memory.New(), func(o *SyncOptions) {
			o.ClosedStatuses = []string{"completed"}
			o.Projects[0].IncludeClosed = true
		}).Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Projects["p1"].Created)
	})
}

func TestAuthErrorBeforeFetch(t *testing.T) {
	src := newMockSource(task("1", "", "A"))
	src.authErr = &AuthError{Service: "megaplan", Reason: "no credentials"}

	_, err := newTestEngine(t, src, newMockTarget(), memory.New(), nil).Migrate(context.Background())
	var ae *AuthError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, 0, src.fetches)
}

func TestHooks(t *testing.T) {
	ctx := context.Background()
	src := newMockSource(task("1", "", "keep"), task("2", "", "drop"))
	tgt := newMockTarget()
	engine := newTestEngine(t, src, tgt, memory.New(), nil)
	engine.Hooks = &Hooks{
		ShouldSync:    func(t *types.Task) bool { return t.Name != "drop" },
		TransformTask: func(t *types.Task) { t.Name = "[MP] " + t.Name },
	}

	result, err := engine.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Projects["p1"].Skipped)
	require.Len(t, tgt.created, 1)
	assert.Equal(t, "[MP] keep", tgt.created[0].Subject)
}

func TestTypeAndStatusLinks(t *testing.T) {
	src := newMockSource(task("1", "", "A"))
	tgt := newMockTarget()
	_, err := newTestEngine(t, src, tgt, memory.New(), func(o *SyncOptions) {
		o.Projects[0].TargetTypeID = 3
	}).Migrate(context.Background())
	require.NoError(t, err)

	p := tgt.created[0]
	assert.Equal(t, "/api/v3/projects/5", p.Links.Project.Href)
	require.NotNil(t, p.Links.Type)
	assert.Equal(t, "/api/v3/types/3", p.Links.Type.Href)
	require.NotNil(t, p.Links.Status)
	assert.Equal(t, "/api/v3/statuses/1", p.Links.Status.Href)
}

func TestSafeFilename(t *testing.T) {
	tests := []struct {
		name, want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"dir/inner.txt", "inner.txt"},
		{"", "f1"},
		{"/", "f1"},
	}
	for _, tt := range tests {
		if got := safeFilename(&types.Attachment{ID: "f1", Filename: tt.name}); got != tt.want {
			t.Errorf("safeFilename(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
