package sqlite

import (
	"fmt"

	"github.com/steveyegge/mpsync/internal/types"
)

// mappingTables maps each identity namespace to its table. The four
// namespaces are independent key spaces with the same shape.
var mappingTables = map[types.EntityKind]string{
	types.KindTask:       "tasks",
	types.KindUser:       "users",
	types.KindAttachment: "attachments",
	types.KindComment:    "comments",
}

const schema = `
-- Identity mappings: source key -> target id
CREATE TABLE IF NOT EXISTS tasks (
    source_key TEXT PRIMARY KEY,
    target_id INTEGER NOT NULL,
    synced_at TEXT
);

CREATE TABLE IF NOT EXISTS users (
    source_key TEXT PRIMARY KEY,
    target_id INTEGER NOT NULL,
    synced_at TEXT
);

CREATE TABLE IF NOT EXISTS attachments (
    source_key TEXT PRIMARY KEY,
    target_id INTEGER NOT NULL,
    synced_at TEXT
);

-- Comment keys are "{task_id}:{comment_id}"
CREATE TABLE IF NOT EXISTS comments (
    source_key TEXT PRIMARY KEY,
    target_id INTEGER NOT NULL,
    synced_at TEXT
);

-- Per-project watermark
CREATE TABLE IF NOT EXISTS sync_state (
    project_id TEXT PRIMARY KEY,
    last_sync TEXT NOT NULL
);
`

// tableFor returns the table backing kind.
func tableFor(kind types.EntityKind) (string, error) {
	table, ok := mappingTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return table, nil
}
