package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/steveyegge/mpsync/internal/storage"
	"github.com/steveyegge/mpsync/internal/telemetry"
	"github.com/steveyegge/mpsync/internal/types"
)

const engineScopeName = "github.com/steveyegge/mpsync/tracker"

// Hooks contains optional callbacks that customize a run. The mpsync CLI
// leaves them unset; programs embedding the engine set them.
type Hooks struct {
	// ShouldSync filters tasks after ordering. Return false to count the
	// task as skipped. Called in addition to the closed-status filter.
	ShouldSync func(task *types.Task) bool

	// TransformTask is called after enrichment and before the payload is
	// built. Use for description formatting and similar rewrites.
	TransformTask func(task *types.Task)
}

// Engine copies work items from a Source into a Target, using the identity
// store to decide between create and update and to resolve references.
// It is strictly sequential.
type Engine struct {
	Source  Source
	Target  Target
	Store   storage.IdentityStore
	Mapper  *Mapper
	Options SyncOptions
	Hooks   *Hooks

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)

	now    func() time.Time
	tracer trace.Tracer
}

// NewEngine creates a sync engine.
func NewEngine(source Source, target Target, store storage.IdentityStore, mapper *Mapper, opts SyncOptions) *Engine {
	if mapper == nil {
		mapper = NewMapper(nil)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	return &Engine{
		Source:  source,
		Target:  target,
		Store:   store,
		Mapper:  mapper,
		Options: opts,
		now:     time.Now,
		tracer:  telemetry.Tracer(engineScopeName),
	}
}

// Migrate copies every task of every configured project, ignoring stored
// watermarks. Existing mappings still turn creates into updates, so a
// repeated migration never duplicates.
func (e *Engine) Migrate(ctx context.Context) (*SyncResult, error) {
	return e.run(ctx, "migrate", func(context.Context, types.ProjectMapping) (*time.Time, error) {
		return nil, nil
	})
}

// SyncUpdates copies tasks changed since the window start. The window
// start is since when given, else the project's stored watermark, else
// absent (everything).
func (e *Engine) SyncUpdates(ctx context.Context, since *time.Time) (*SyncResult, error) {
	return e.run(ctx, "sync", func(ctx context.Context, pm types.ProjectMapping) (*time.Time, error) {
		if since != nil {
			return since, nil
		}
		wm, ok, err := e.Store.GetWatermark(ctx, pm.SourceID)
		if err != nil {
			return nil, fmt.Errorf("reading watermark: %w", err)
		}
		if !ok {
			return nil, nil
		}
		return &wm, nil
	})
}

type windowFunc func(ctx context.Context, pm types.ProjectMapping) (*time.Time, error)

func (e *Engine) run(ctx context.Context, mode string, window windowFunc) (*SyncResult, error) {
	result := &SyncResult{
		Projects:  make(map[string]*ProjectStats, len(e.Options.Projects)),
		StartedAt: e.now().UTC(),
		DryRun:    e.Options.DryRun,
	}

	ctx, span := e.tracer.Start(ctx, "tracker."+mode,
		trace.WithAttributes(
			attribute.Int("mpsync.projects", len(e.Options.Projects)),
			attribute.Bool("mpsync.dry_run", e.Options.DryRun),
		),
	)
	defer span.End()

	for _, pm := range e.Options.Projects {
		stats := &ProjectStats{}
		result.Projects[pm.SourceID] = stats

		if err := e.runProject(ctx, pm, stats, result.StartedAt, window); err != nil {
			result.FinishedAt = e.now().UTC()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, fmt.Errorf("project %s: %w", pm.SourceID, err)
		}
	}

	result.FinishedAt = e.now().UTC()
	return result, nil
}

func (e *Engine) runProject(ctx context.Context, pm types.ProjectMapping, stats *ProjectStats, runStart time.Time, window windowFunc) (err error) {
	ctx, span := e.tracer.Start(ctx, "tracker.project",
		trace.WithAttributes(
			attribute.String("mpsync.project.source", pm.SourceID),
			attribute.Int64("mpsync.project.target", pm.TargetID),
		),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("mpsync.fetched", stats.Fetched),
			attribute.Int("mpsync.created", stats.Created),
			attribute.Int("mpsync.updated", stats.Updated),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	since, err := window(ctx, pm)
	if err != nil {
		return err
	}
	if since != nil {
		e.msg("Syncing project %s since %s", pm.SourceID, since.UTC().Format(time.RFC3339))
	} else {
		e.msg("Syncing project %s (all tasks)", pm.SourceID)
	}

	if err := e.syncProject(ctx, pm, since, stats); err != nil {
		return err
	}

	if e.Options.DryRun {
		return nil
	}
	if err := e.Store.SetWatermark(ctx, pm.SourceID, runStart); err != nil {
		return fmt.Errorf("advancing watermark: %w", err)
	}
	return nil
}

// syncProject runs one project through fetch, order, filter, enrich and
// reconcile. It returns on the first hard failure.
func (e *Engine) syncProject(ctx context.Context, pm types.ProjectMapping, since *time.Time, stats *ProjectStats) error {
	if err := e.Source.Authenticate(ctx); err != nil {
		return err
	}

	var raws []Record
	err := e.Source.IterateTasks(ctx, pm.SourceID, e.Options.PageSize, since, func(r Record) error {
		raws = append(raws, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetching tasks: %w", err)
	}
	stats.Fetched = len(raws)

	if len(raws) == 0 {
		stats.NoChanges = true
		e.msg("No changes in project %s", pm.SourceID)
		return nil
	}
	e.msg("Fetched %d tasks from project %s", len(raws), pm.SourceID)

	tasks := make([]*types.Task, 0, len(raws))
	for _, raw := range raws {
		task, err := e.Mapper.TaskToCanonical(raw)
		if err != nil {
			return fmt.Errorf("translating task: %w", err)
		}
		tasks = append(tasks, task)
	}

	ordered, err := OrderTasks(tasks)
	if err != nil {
		return err
	}

	closed := make(map[string]bool, len(e.Options.ClosedStatuses))
	for _, s := range e.Options.ClosedStatuses {
		closed[s] = true
	}

	for _, task := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !pm.IncludeClosed && closed[task.Status] {
			stats.Skipped++
			continue
		}
		if e.Hooks != nil && e.Hooks.ShouldSync != nil && !e.Hooks.ShouldSync(task) {
			stats.Skipped++
			continue
		}

		if err := e.enrichTask(ctx, task); err != nil {
			return err
		}

		if e.Options.DryRun {
			e.msg("[dry-run] Would sync task %s (%s) -> project %d", task.ID, task.Name, pm.TargetID)
			stats.Skipped++
			continue
		}

		if e.Hooks != nil && e.Hooks.TransformTask != nil {
			e.Hooks.TransformTask(task)
		}

		if err := e.syncTask(ctx, pm, task, stats); err != nil {
			return fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	return nil
}

func (e *Engine) enrichTask(ctx context.Context, task *types.Task) error {
	if e.Options.SyncComments {
		raws, err := e.Source.GetComments(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("fetching comments of task %s: %w", task.ID, err)
		}
		task.Comments = task.Comments[:0]
		for _, raw := range raws {
			c, err := e.Mapper.CommentToCanonical(raw)
			if err != nil {
				return fmt.Errorf("translating comment of task %s: %w", task.ID, err)
			}
			task.Comments = append(task.Comments, c)
		}
	}

	if e.Options.SyncAttachments {
		raws, err := e.Source.GetFiles(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("fetching files of task %s: %w", task.ID, err)
		}
		task.Attachments = task.Attachments[:0]
		for _, raw := range raws {
			a, err := e.Mapper.AttachmentToCanonical(raw)
			if err != nil {
				return fmt.Errorf("translating file of task %s: %w", task.ID, err)
			}
			task.Attachments = append(task.Attachments, a)
		}
	}
	return nil
}

func (e *Engine) syncTask(ctx context.Context, pm types.ProjectMapping, task *types.Task, stats *ProjectStats) error {
	existingID, exists, err := e.Store.GetMapping(ctx, types.KindTask, task.ID)
	if err != nil {
		return err
	}

	var parentID int64
	if task.HasParent() {
		id, ok, err := e.Store.GetMapping(ctx, types.KindTask, task.ParentID)
		if err != nil {
			return err
		}
		if ok {
			parentID = id
		} else {
			e.msg("Parent %s of task %s is not synced; writing without parent link", task.ParentID, task.ID)
		}
	}

	assigneeID, err := e.resolveUser(ctx, task.AssigneeID)
	if err != nil {
		return err
	}

	payload := e.Mapper.ToWritePayload(task, pm.TargetID, pm.TargetTypeID, parentID, assigneeID)

	var targetID int64
	if exists {
		id, err := e.Target.UpdateItem(ctx, existingID, payload)
		if err != nil {
			return fmt.Errorf("updating work package %d: %w", existingID, err)
		}
		targetID = existingID
		if id != 0 {
			targetID = id
		}
		stats.Updated++
	} else {
		id, err := e.Target.CreateItem(ctx, payload)
		if err != nil {
			return fmt.Errorf("creating work package: %w", err)
		}
		targetID = id
		stats.Created++
	}

	if err := e.Store.PutMapping(ctx, types.KindTask, task.ID, targetID); err != nil {
		return err
	}

	if e.Options.SyncComments {
		n, err := e.syncComments(ctx, targetID, task)
		stats.Comments += n
		if err != nil {
			return err
		}
	}
	if e.Options.SyncAttachments {
		n, err := e.syncAttachments(ctx, targetID, task)
		stats.Attachments += n
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveUser maps a source user to a target user ID. Failures on the
// source side fall back to the default user with a warning; failures on
// the target side or in the store are returned.
func (e *Engine) resolveUser(ctx context.Context, sourceUserID string) (int64, error) {
	if sourceUserID == "" {
		return e.Options.DefaultUserID, nil
	}

	if id, ok, err := e.Store.GetMapping(ctx, types.KindUser, sourceUserID); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	raws, err := e.Source.GetUsers(ctx, []string{sourceUserID})
	if err != nil {
		e.warn("Could not fetch user %s: %v; using default user", sourceUserID, err)
		return e.Options.DefaultUserID, nil
	}
	if len(raws) == 0 {
		e.warn("User %s not found in source; using default user", sourceUserID)
		return e.Options.DefaultUserID, nil
	}

	profile, err := e.Mapper.UserToCanonical(raws[0])
	if err != nil || !profile.HasLookupKey() {
		e.warn("User %s has no login or email; using default user", sourceUserID)
		return e.Options.DefaultUserID, nil
	}

	id, err := e.EnsureUser(ctx, profile)
	if err != nil {
		return 0, fmt.Errorf("ensuring user %s: %w", sourceUserID, err)
	}
	if err := e.Store.PutMapping(ctx, types.KindUser, sourceUserID, id); err != nil {
		return 0, err
	}
	return id, nil
}

// EnsureUser returns the target user matching the profile's login or
// email, creating the user when none exists.
func (e *Engine) EnsureUser(ctx context.Context, profile *types.User) (int64, error) {
	id, ok, err := e.Target.FindUser(ctx, profile.Login, profile.Email)
	if err != nil {
		return 0, err
	}
	if ok {
		return id, nil
	}
	e.msg("Creating user %s", firstNonEmpty(profile.Login, profile.Email))
	return e.Target.CreateUser(ctx, profile)
}

// syncComments posts comments that have no mapping yet. It returns the
// number posted even when it fails part way.
func (e *Engine) syncComments(ctx context.Context, itemID int64, task *types.Task) (int, error) {
	posted := 0
	for _, c := range task.Comments {
		key := types.CommentKey(task.ID, c.ID)
		if _, ok, err := e.Store.GetMapping(ctx, types.KindComment, key); err != nil {
			return posted, err
		} else if ok {
			continue
		}

		author := c.AuthorID
		if author == "" {
			author = "unknown"
		}
		body := fmt.Sprintf("%s\n\n_Author: %s_", c.Body, author)

		id, err := e.Target.CreateComment(ctx, itemID, body)
		if err != nil {
			return posted, fmt.Errorf("posting comment %s: %w", c.ID, err)
		}
		if id == 0 {
			id = itemID
		}
		if err := e.Store.PutMapping(ctx, types.KindComment, key, id); err != nil {
			return posted, err
		}
		posted++
	}
	return posted, nil
}

// syncAttachments copies attachments that have no mapping yet and fit
// under the size ceiling.
func (e *Engine) syncAttachments(ctx context.Context, itemID int64, task *types.Task) (int, error) {
	uploaded := 0
	for _, a := range task.Attachments {
		if a.Size > e.Options.AttachmentMaxBytes {
			e.warn("Skipping file %s of task %s: %d bytes exceeds limit", a.Filename, task.ID, a.Size)
			continue
		}
		if _, ok, err := e.Store.GetMapping(ctx, types.KindAttachment, a.ID); err != nil {
			return uploaded, err
		} else if ok {
			continue
		}

		id, err := e.transferAttachment(ctx, itemID, a)
		if err != nil {
			return uploaded, fmt.Errorf("file %s: %w", a.ID, err)
		}
		if err := e.Store.PutMapping(ctx, types.KindAttachment, a.ID, id); err != nil {
			return uploaded, err
		}
		uploaded++
	}
	return uploaded, nil
}

// transferAttachment downloads into a private temp directory and uploads
// from there. The directory is removed on every path.
func (e *Engine) transferAttachment(ctx context.Context, itemID int64, a *types.Attachment) (int64, error) {
	parent := e.Options.TmpDir
	if parent != "" {
		if err := os.MkdirAll(parent, 0o750); err != nil {
			return 0, fmt.Errorf("creating temp dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(parent, "attachment-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	path := filepath.Join(dir, safeFilename(a))
	if err := e.Source.DownloadFile(ctx, a.ID, path); err != nil {
		return 0, fmt.Errorf("downloading: %w", err)
	}
	id, err := e.Target.UploadAttachment(ctx, itemID, path)
	if err != nil {
		return 0, fmt.Errorf("uploading: %w", err)
	}
	return id, nil
}

// safeFilename keeps only the last path element of the source filename.
func safeFilename(a *types.Attachment) string {
	name := filepath.Base(filepath.Clean("/" + a.Filename))
	if name == "/" || name == "." || name == "" {
		return a.ID
	}
	return name
}

// msg sends an informational message via the callback if set.
func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

// warn sends a warning message via the callback if set.
func (e *Engine) warn(format string, args ...interface{}) {
	if e.OnWarning != nil {
		e.OnWarning(fmt.Sprintf(format, args...))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
