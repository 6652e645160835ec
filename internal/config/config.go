// Package config loads and validates the mpsync configuration file.
//
// The file is YAML by default; a ".toml" extension selects TOML. Values are
// read through viper so that MPSYNC_* environment variables override the
// file (MPSYNC_SYNC_DRY_RUN=true, MPSYNC_HTTP_TIMEOUT=1m, ...). Credentials
// may also come from MEGAPLAN_USERNAME, MEGAPLAN_PASSWORD,
// OPENPROJECT_USERNAME and OPENPROJECT_PASSWORD.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/mpsync/internal/tracker"
	"github.com/steveyegge/mpsync/internal/types"
)

// DefaultPath is used when no --config flag is given.
const DefaultPath = "config.yaml"

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MPSYNC"

// Config is the root of the configuration file.
type Config struct {
	Megaplan    MegaplanConfig    `mapstructure:"megaplan" yaml:"megaplan" toml:"megaplan"`
	OpenProject OpenProjectConfig `mapstructure:"openproject" yaml:"openproject" toml:"openproject"`
	Projects    []ProjectConfig   `mapstructure:"projects" yaml:"projects" toml:"projects"`
	Sync        SyncConfig        `mapstructure:"sync" yaml:"sync" toml:"sync"`
	StateDB     string            `mapstructure:"state_db" yaml:"state_db" toml:"state_db"`
	HTTP        HTTPConfig        `mapstructure:"http" yaml:"http" toml:"http"`

	// path is the file the config was loaded from.
	path string
}

// MegaplanConfig holds the source tracker connection.
type MegaplanConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url" toml:"base_url"`
	Username string `mapstructure:"username" yaml:"username" toml:"username"`
	Password string `mapstructure:"password" yaml:"password" toml:"password"`
}

// OpenProjectConfig holds the target tracker connection. Password may be an
// API token used with Basic auth.
type OpenProjectConfig struct {
	BaseURL       string `mapstructure:"base_url" yaml:"base_url" toml:"base_url"`
	Username      string `mapstructure:"username" yaml:"username" toml:"username"`
	Password      string `mapstructure:"password" yaml:"password" toml:"password"`
	DefaultUserID int64  `mapstructure:"default_user_id" yaml:"default_user_id" toml:"default_user_id"`
}

// ProjectConfig pairs a Megaplan project with an OpenProject project.
type ProjectConfig struct {
	MegaplanID    string `mapstructure:"megaplan_id" yaml:"megaplan_id" toml:"megaplan_id"`
	OpenProjectID int64  `mapstructure:"openproject_id" yaml:"openproject_id" toml:"openproject_id"`
	IncludeClosed bool   `mapstructure:"include_closed" yaml:"include_closed" toml:"include_closed"`
	TypeID        int64  `mapstructure:"type_id" yaml:"type_id" toml:"type_id"`
}

// SyncConfig tunes a run.
type SyncConfig struct {
	PageSize        int               `mapstructure:"page_size" yaml:"page_size" toml:"page_size"`
	AttachmentMaxMB float64           `mapstructure:"attachment_max_mb" yaml:"attachment_max_mb" toml:"attachment_max_mb"`
	SyncAttachments bool              `mapstructure:"sync_attachments" yaml:"sync_attachments" toml:"sync_attachments"`
	SyncComments    bool              `mapstructure:"sync_comments" yaml:"sync_comments" toml:"sync_comments"`
	DryRun          bool              `mapstructure:"dry_run" yaml:"dry_run" toml:"dry_run"`
	TmpDir          string            `mapstructure:"tmp_dir" yaml:"tmp_dir" toml:"tmp_dir"`
	StatusMapping   map[string]string `mapstructure:"status_mapping" yaml:"status_mapping" toml:"status_mapping"`
	ClosedStatuses  []string          `mapstructure:"closed_statuses" yaml:"closed_statuses" toml:"closed_statuses"`
}

// HTTPConfig applies to both trackers.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" toml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" toml:"max_retries"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	where := "configuration"
	if e.Path != "" {
		where = "configuration " + e.Path
	}
	return fmt.Sprintf("invalid %s: %s", where, strings.Join(e.Problems, "; "))
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("megaplan.base_url", "")
	v.SetDefault("megaplan.username", "")
	v.SetDefault("megaplan.password", "")
	v.SetDefault("openproject.base_url", "")
	v.SetDefault("openproject.username", "")
	v.SetDefault("openproject.password", "")
	v.SetDefault("openproject.default_user_id", 0)

	v.SetDefault("sync.page_size", 100)
	v.SetDefault("sync.attachment_max_mb", 200.0)
	v.SetDefault("sync.sync_attachments", true)
	v.SetDefault("sync.sync_comments", true)
	v.SetDefault("sync.dry_run", false)
	v.SetDefault("sync.tmp_dir", ".sync_tmp")

	v.SetDefault("state_db", ".sync_state.sqlite")

	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.max_retries", 3)
}

// credentialEnv binds config keys to the unprefixed variables operators
// already export for other tooling.
var credentialEnv = map[string]string{
	"megaplan.username":    "MEGAPLAN_USERNAME",
	"megaplan.password":    "MEGAPLAN_PASSWORD",
	"openproject.username": "OPENPROJECT_USERNAME",
	"openproject.password": "OPENPROJECT_PASSWORD",
}

// Load reads, merges and validates the configuration at path. An empty
// path means DefaultPath.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path) // #nosec G304 - path is the operator's config file
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	format := formatFor(path)

	strict, err := decodeStrict(data, format)
	if err != nil {
		return nil, &ValidationError{Path: path, Problems: []string{err.Error()}}
	}

	v := viper.New()
	v.SetConfigType(format)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, env := range credentialEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ValidationError{Path: path, Problems: []string{err.Error()}}
	}
	// viper lower-cases map keys; status names are case-sensitive.
	cfg.Sync.StatusMapping = strict.Sync.StatusMapping
	cfg.path = path
	return &cfg, nil
}

// Path returns the file the config was read from.
func (c *Config) Path() string {
	return c.path
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// decodeStrict decodes the raw file rejecting keys Config does not know.
func decodeStrict(data []byte, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, k := range undecoded {
				keys = append(keys, k.String())
			}
			sort.Strings(keys)
			return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	return &cfg, nil
}

// problems collects validation messages.
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p *problems) checkURL(key, raw string) {
	if raw == "" {
		p.add("%s is required", key)
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		p.add("%s must be an http(s) URL, got %q", key, raw)
	}
}

func (p problems) err(path string) error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Path: path, Problems: p}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var p problems
	c.checkConnections(&p)
	c.checkRun(&p)
	return p.err(c.path)
}

// ValidateConnections checks only what talking to both trackers needs.
// Commands that list projects use it before any mapping exists.
func (c *Config) ValidateConnections() error {
	var p problems
	c.checkConnections(&p)
	return p.err(c.path)
}

func (c *Config) checkConnections(p *problems) {
	p.checkURL("megaplan.base_url", c.Megaplan.BaseURL)
	if c.Megaplan.Username == "" {
		p.add("megaplan.username is required")
	}
	if c.Megaplan.Password == "" {
		p.add("megaplan.password is required")
	}
	p.checkURL("openproject.base_url", c.OpenProject.BaseURL)
	if c.OpenProject.Username == "" {
		p.add("openproject.username is required")
	}
	if c.OpenProject.Password == "" {
		p.add("openproject.password is required")
	}
	if c.HTTP.Timeout <= 0 {
		p.add("http.timeout must be positive")
	}
	if c.HTTP.MaxRetries < 0 {
		p.add("http.max_retries must not be negative")
	}
}

func (c *Config) checkRun(p *problems) {
	if c.OpenProject.DefaultUserID < 0 {
		p.add("openproject.default_user_id must not be negative")
	}

	if len(c.Projects) == 0 {
		p.add("projects must list at least one project mapping")
	}
	seen := make(map[string]bool, len(c.Projects))
	for i, pc := range c.Projects {
		switch {
		case pc.MegaplanID == "":
			p.add("projects[%d].megaplan_id is required", i)
		case seen[pc.MegaplanID]:
			p.add("projects[%d].megaplan_id %q is listed twice", i, pc.MegaplanID)
		}
		seen[pc.MegaplanID] = true
		if pc.OpenProjectID <= 0 {
			p.add("projects[%d].openproject_id must be a positive integer", i)
		}
		if pc.TypeID < 0 {
			p.add("projects[%d].type_id must not be negative", i)
		}
	}

	if c.Sync.PageSize <= 0 {
		p.add("sync.page_size must be positive")
	}
	if c.Sync.AttachmentMaxMB < 0 {
		p.add("sync.attachment_max_mb must not be negative")
	}
	if c.Sync.TmpDir == "" {
		p.add("sync.tmp_dir is required")
	}
	if c.StateDB == "" {
		p.add("state_db is required")
	}
}

// EnsureRuntimeDirs creates the attachment temp directory and the directory
// holding the state database.
func (c *Config) EnsureRuntimeDirs() error {
	if err := os.MkdirAll(c.Sync.TmpDir, 0o750); err != nil {
		return fmt.Errorf("creating tmp_dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.StateDB), 0o750); err != nil {
		return fmt.Errorf("creating state_db directory: %w", err)
	}
	return nil
}

// AttachmentMaxBytes converts the megabyte ceiling to bytes.
func (c *Config) AttachmentMaxBytes() int64 {
	return int64(c.Sync.AttachmentMaxMB * 1024 * 1024)
}

// ProjectMappings returns the configured project pairs in file order.
func (c *Config) ProjectMappings() []types.ProjectMapping {
	out := make([]types.ProjectMapping, 0, len(c.Projects))
	for _, p := range c.Projects {
		out = append(out, types.ProjectMapping{
			SourceID:      p.MegaplanID,
			TargetID:      p.OpenProjectID,
			IncludeClosed: p.IncludeClosed,
			TargetTypeID:  p.TypeID,
		})
	}
	return out
}

// ProjectLookup indexes the project pairs by Megaplan ID.
func (c *Config) ProjectLookup() map[string]types.ProjectMapping {
	out := make(map[string]types.ProjectMapping, len(c.Projects))
	for _, p := range c.ProjectMappings() {
		out[p.SourceID] = p
	}
	return out
}

// SyncOptions builds the engine options.
func (c *Config) SyncOptions() tracker.SyncOptions {
	return tracker.SyncOptions{
		Projects:           c.ProjectMappings(),
		PageSize:           c.Sync.PageSize,
		AttachmentMaxBytes: c.AttachmentMaxBytes(),
		SyncComments:       c.Sync.SyncComments,
		SyncAttachments:    c.Sync.SyncAttachments,
		DryRun:             c.Sync.DryRun,
		TmpDir:             c.Sync.TmpDir,
		DefaultUserID:      c.OpenProject.DefaultUserID,
		ClosedStatuses:     append([]string(nil), c.Sync.ClosedStatuses...),
	}
}

// Redacted returns a copy with both passwords masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Projects = append([]ProjectConfig(nil), c.Projects...)
	if out.Megaplan.Password != "" {
		out.Megaplan.Password = redactedValue
	}
	if out.OpenProject.Password != "" {
		out.OpenProject.Password = redactedValue
	}
	return &out
}

const redactedValue = "********"
