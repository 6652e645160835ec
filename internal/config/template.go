package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// starterConfig is written by "mpsync config init".
const starterConfig = `# mpsync configuration.
# Any value can be overridden with MPSYNC_<SECTION>_<KEY>, for example
# MPSYNC_SYNC_DRY_RUN=true. Credentials may also come from
# MEGAPLAN_USERNAME / MEGAPLAN_PASSWORD and
# OPENPROJECT_USERNAME / OPENPROJECT_PASSWORD.

megaplan:
  base_url: https://company.megaplan.ru/api/v3
  username: ""
  password: ""

openproject:
  base_url: https://openproject.example.com
  # Basic auth: use "apikey" as username and an API token as password.
  username: apikey
  password: ""
  # Assignee for tasks whose Megaplan user cannot be resolved.
  default_user_id: 0

projects:
  - megaplan_id: "1000001"
    openproject_id: 1
    include_closed: false
    # type_id: 1

sync:
  page_size: 100
  attachment_max_mb: 200
  sync_attachments: true
  sync_comments: true
  dry_run: true
  tmp_dir: .sync_tmp
  # Megaplan status -> OpenProject status ID. Unmapped statuses keep the
  # OpenProject default.
  status_mapping: {}
  # Statuses skipped unless a project sets include_closed.
  closed_statuses: [completed, done, cancelled]

state_db: .sync_state.sqlite

http:
  timeout: 30s
  max_retries: 3
`

// StarterConfig returns the commented template written by WriteStarter.
func StarterConfig() string {
	return starterConfig
}

// WriteStarter writes the starter template to path. An existing file is
// only replaced when force is set.
func WriteStarter(path string, force bool) error {
	if path == "" {
		path = DefaultPath
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	// The file holds credentials once filled in.
	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
