// Package config holds the compiled-in audit configuration and the YAML
// overrides layered on top of it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"deployaudit/internal/audit"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "deployaudit.yml"

// Config is the compiled-in configuration with optional overrides.
type Config struct {
	Root         string             `yaml:"root"`
	OutputDir    string             `yaml:"output_dir"`
	Scan         ScanConfig         `yaml:"scan"`
	Syntax       SyntaxConfig       `yaml:"syntax"`
	Dependencies DependencyConfig   `yaml:"dependencies"`
	UseBeforeDef UseBeforeDefConfig `yaml:"use_before_definition"`
	Permissions  PermissionConfig   `yaml:"permissions"`
	Routing      RoutingConfig      `yaml:"routing"`
	Exposure     ExposureConfig     `yaml:"exposure"`
	Database     DatabaseConfig     `yaml:"database"`
	Remediation  RemediationConfig  `yaml:"remediation"`
	Watch        WatchConfig        `yaml:"watch"`
}

type ScanConfig struct {
	Ignore []string `yaml:"ignore"`
}

type SyntaxConfig struct {
	Extensions []string         `yaml:"extensions"`
	Severity   audit.Severity   `yaml:"severity"`
	Thresholds audit.Thresholds `yaml:"thresholds"`
}

type DependencyConfig struct {
	Extensions      []string         `yaml:"extensions"`
	Pattern         string           `yaml:"pattern"`
	AnchorToken     string           `yaml:"anchor_token"`
	FragileSegments []string         `yaml:"fragile_segments"`
	Thresholds      audit.Thresholds `yaml:"thresholds"`
}

// Binding is a variable that must be assigned before it is read.
type Binding struct {
	Name       string         `yaml:"name"`
	Definition string         `yaml:"definition"`
	Severity   audit.Severity `yaml:"severity"`
}

type UseBeforeDefConfig struct {
	Extensions []string         `yaml:"extensions"`
	Bindings   []Binding        `yaml:"bindings"`
	Thresholds audit.Thresholds `yaml:"thresholds"`
}

// DirExpectation describes the required state of one directory. Writable
// directories are operational (uploads, logs); the rest are write-restricted.
type DirExpectation struct {
	Path      string `yaml:"path"`
	Mode      string `yaml:"mode"`
	Writable  bool   `yaml:"writable"`
	Sensitive bool   `yaml:"sensitive"`
}

// FileMode parses the octal mode string. An empty mode means "any".
func (d DirExpectation) FileMode() (fs.FileMode, bool, error) {
	if d.Mode == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(d.Mode, 8, 32)
	if err != nil {
		return 0, false, fmt.Errorf("invalid mode %q for %s: %w", d.Mode, d.Path, err)
	}
	return fs.FileMode(v).Perm(), true, nil
}

type PermissionConfig struct {
	Directories []DirExpectation `yaml:"directories"`
	CheckMode   bool             `yaml:"check_mode"`
	Thresholds  audit.Thresholds `yaml:"thresholds"`
}

// Route maps a request path to the file expected to serve it.
type Route struct {
	Path   string `yaml:"path"`
	Target string `yaml:"target"`
}

type RoutingConfig struct {
	Routes         []Route          `yaml:"routes"`
	EntryDirs      []string         `yaml:"entry_dirs"`
	EntryFile      string           `yaml:"entry_file"`
	RewriteFiles   []string         `yaml:"rewrite_files"`
	RewriteMarkers []string         `yaml:"rewrite_markers"`
	Thresholds     audit.Thresholds `yaml:"thresholds"`
}

type SensitivePattern struct {
	Glob     string         `yaml:"glob"`
	Severity audit.Severity `yaml:"severity"`
}

type ExposureConfig struct {
	Patterns          []SensitivePattern `yaml:"patterns"`
	AccessFile        string             `yaml:"access_file"`
	ProtectedFiles    []string           `yaml:"protected_files"`
	ProtectedSeverity audit.Severity     `yaml:"protected_severity"`
	Thresholds        audit.Thresholds   `yaml:"thresholds"`
}

// TableSpec is one entry of the expected schema.
type TableSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []string `yaml:"columns"`
}

// CountCheck expects a table (optionally filtered) to hold at least MinRows.
type CountCheck struct {
	Name     string         `yaml:"name"`
	Table    string         `yaml:"table"`
	Where    string         `yaml:"where"`
	MinRows  int            `yaml:"min_rows"`
	Severity audit.Severity `yaml:"severity"`
}

// ReferenceCheck counts rows of Table whose Column points at no row of
// RefTable. Query, when set, replaces the generated outer join.
type ReferenceCheck struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Table       string `yaml:"table"`
	Column      string `yaml:"column"`
	RefTable    string `yaml:"ref_table"`
	RefColumn   string `yaml:"ref_column"`
	Nullable    bool   `yaml:"nullable"`
	Query       string `yaml:"query"`
}

// RelationshipQuery is an informational cardinality query. It is skipped
// when one of Tables is absent.
type RelationshipQuery struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tables      []string `yaml:"tables"`
	Query       string   `yaml:"query"`
}

type DatabaseConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Driver         string              `yaml:"driver"`
	DSN            string              `yaml:"dsn"`
	ConnectTimeout time.Duration       `yaml:"connect_timeout"`
	Tables         []TableSpec         `yaml:"tables"`
	Counts         []CountCheck        `yaml:"counts"`
	References     []ReferenceCheck    `yaml:"references"`
	Relationships  []RelationshipQuery `yaml:"relationships"`
	Thresholds     audit.Thresholds    `yaml:"thresholds"`
}

// PathRule rewrites a dependency reference containing Contains. The template
// may use {anchor} and {base}.
type PathRule struct {
	Contains string `yaml:"contains"`
	Template string `yaml:"template"`
}

type RemediationConfig struct {
	PlanFile        string     `yaml:"plan_file"`
	DependencyRules []PathRule `yaml:"dependency_rules"`
	AccessTemplate  string     `yaml:"access_template"`
	RewriteTemplate string     `yaml:"rewrite_template"`
	EntryStub       string     `yaml:"entry_stub"`
}

type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

var twoTier = audit.Thresholds{
	{Min: 90, Label: "EXCELLENT"},
	{Min: 70, Label: "GOOD"},
	{Min: 0, Label: "CRITICAL"},
}

var singleCutoff = audit.Thresholds{
	{Min: 80, Label: "PASS"},
	{Min: 0, Label: "FAIL"},
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Root:      ".",
		OutputDir: "audit-results",
		Scan: ScanConfig{
			Ignore: []string{".git", ".svn", ".hg", "node_modules", "vendor", ".idea", ".vscode"},
		},
		Syntax: SyntaxConfig{
			Extensions: []string{".php"},
			Severity:   audit.SeverityHigh,
			Thresholds: twoTier,
		},
		Dependencies: DependencyConfig{
			Extensions:      []string{".php"},
			Pattern:         `(?:include|require)(?:_once)?\s*\(?\s*(__DIR__\s*\.\s*)?['"]([^'"]+)['"]`,
			AnchorToken:     "__DIR__",
			FragileSegments: []string{"config/", "classes/"},
			Thresholds:      twoTier,
		},
		UseBeforeDef: UseBeforeDefConfig{
			Extensions: []string{".php"},
			Bindings: []Binding{
				{Name: "$method", Definition: "$method = $_SERVER['REQUEST_METHOD'];", Severity: audit.SeverityHigh},
			},
			Thresholds: twoTier,
		},
		Permissions: PermissionConfig{
			Directories: []DirExpectation{
				{Path: "backend/uploads", Mode: "755", Writable: true},
				{Path: "backend/exports", Mode: "755", Writable: true},
				{Path: "backend/admin/logs", Mode: "755", Writable: true},
				{Path: "backend/config", Mode: "755", Sensitive: true},
				{Path: "backend/classes", Mode: "755", Sensitive: true},
			},
			CheckMode:  true,
			Thresholds: twoTier,
		},
		Routing: RoutingConfig{
			Routes: []Route{
				{Path: "/backend/api/pages", Target: "backend/api/index.php"},
				{Path: "/backend/admin/", Target: "backend/admin/index.php"},
				{Path: "/backend/api/portfolio", Target: "backend/api/index.php"},
			},
			EntryDirs:      []string{"backend/api", "backend/admin"},
			EntryFile:      "index.php",
			RewriteFiles:   []string{".htaccess", "backend/.htaccess"},
			RewriteMarkers: []string{"RewriteEngine On"},
			Thresholds:     singleCutoff,
		},
		Exposure: ExposureConfig{
			Patterns: []SensitivePattern{
				{Glob: "*.sql", Severity: audit.SeverityHigh},
				{Glob: "*.log", Severity: audit.SeverityMedium},
				{Glob: "composer.*", Severity: audit.SeverityMedium},
				{Glob: "config.php", Severity: audit.SeverityHigh},
				{Glob: ".env*", Severity: audit.SeverityHigh},
			},
			AccessFile: ".htaccess",
			ProtectedFiles: []string{
				"backend/config/config.php",
				"backend/config/database.php",
				"backend/classes/Auth.php",
				"backend/composer.json",
				"backend/composer.lock",
			},
			ProtectedSeverity: audit.SeverityHigh,
			Thresholds:        twoTier,
		},
		Database: DatabaseConfig{
			Enabled:        true,
			Driver:         "mysql",
			ConnectTimeout: 5 * time.Second,
			Tables: []TableSpec{
				{Name: "users", Description: "User authentication and roles", Columns: []string{"id", "role"}},
				{Name: "pages", Description: "Dynamic page management", Columns: []string{"id", "is_published", "created_by"}},
				{Name: "page_elements", Description: "Page content elements", Columns: []string{"id"}},
				{Name: "media", Description: "Media library", Columns: []string{"id"}},
				{Name: "portfolio_projects", Description: "Portfolio showcase", Columns: []string{"id", "featured_image"}},
				{Name: "portfolio_images", Description: "Project image galleries", Columns: []string{"id", "media_id"}},
				{Name: "services", Description: "Service offerings", Columns: []string{"id"}},
				{Name: "service_packages", Description: "Service pricing packages", Columns: []string{"id"}},
				{Name: "blog_posts", Description: "Blog content", Columns: []string{"id", "featured_image"}},
				{Name: "testimonials", Description: "Client testimonials", Columns: []string{"id", "is_published"}},
				{Name: "form_submissions", Description: "Form data and leads", Columns: []string{"id"}},
				{Name: "newsletter_subscribers", Description: "Email subscribers", Columns: []string{"id"}},
				{Name: "site_settings", Description: "Configuration settings", Columns: []string{"id"}},
			},
			Counts: []CountCheck{
				{Name: "admin_users", Table: "users", Where: "role = 'admin'", MinRows: 1, Severity: audit.SeverityMedium},
				{Name: "published_pages", Table: "pages", Where: "is_published = 1", MinRows: 1, Severity: audit.SeverityMedium},
				{Name: "portfolio_projects", Table: "portfolio_projects", MinRows: 1, Severity: audit.SeverityMedium},
				{Name: "media", Table: "media", MinRows: 1, Severity: audit.SeverityMedium},
				{Name: "published_testimonials", Table: "testimonials", Where: "is_published = 1", MinRows: 1, Severity: audit.SeverityMedium},
			},
			References: []ReferenceCheck{
				{Name: "portfolio_featured_images", Description: "Portfolio projects with missing featured images",
					Table: "portfolio_projects", Column: "featured_image", RefTable: "media", RefColumn: "id", Nullable: true},
				{Name: "portfolio_project_images", Description: "Portfolio images with missing media files",
					Table: "portfolio_images", Column: "media_id", RefTable: "media", RefColumn: "id"},
				{Name: "blog_featured_images", Description: "Blog posts with missing featured images",
					Table: "blog_posts", Column: "featured_image", RefTable: "media", RefColumn: "id", Nullable: true},
			},
			Relationships: []RelationshipQuery{
				{Name: "portfolio_to_media", Description: "Portfolio projects to media relationship",
					Tables: []string{"portfolio_projects", "media"},
					Query:  "SELECT COUNT(DISTINCT p.id) AS projects, COUNT(DISTINCT m.id) AS media_files FROM portfolio_projects p LEFT JOIN media m ON p.featured_image = m.id"},
				{Name: "users_to_content", Description: "Users to created content relationship",
					Tables: []string{"users", "pages"},
					Query:  "SELECT COUNT(DISTINCT u.id) AS users, COUNT(DISTINCT p.id) AS pages FROM users u LEFT JOIN pages p ON u.id = p.created_by"},
			},
			Thresholds: twoTier,
		},
		Remediation: RemediationConfig{
			PlanFile: "solution-recommendations.json",
			DependencyRules: []PathRule{
				{Contains: "config/", Template: "{anchor} . '/../config/{base}'"},
				{Contains: "classes/", Template: "{anchor} . '/../classes/{base}'"},
			},
			AccessTemplate:  defaultAccessTemplate,
			RewriteTemplate: defaultRewriteTemplate,
			EntryStub:       "<?php\nrequire_once __DIR__ . '/../config/config.php';\n",
		},
		Watch: WatchConfig{
			Debounce: 300 * time.Millisecond,
		},
	}
}

const defaultAccessTemplate = `# Deny access to sensitive files
<Files ~ "\.(sql|log|env)$">
    Order allow,deny
    Deny from all
</Files>

<Files ~ "^(config\.php|composer\.(json|lock))$">
    Order allow,deny
    Deny from all
</Files>

Options -Indexes
`

const defaultRewriteTemplate = `RewriteEngine On
RewriteCond %{REQUEST_FILENAME} !-f
RewriteCond %{REQUEST_FILENAME} !-d
RewriteRule ^(.*)$ index.php [QSA,L]
`

// Load decodes the YAML file at path over the defaults. Keys absent from the
// file keep their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads path if given. When path is empty the default file is used
// if present; its absence is not an error.
func Resolve(path string) (Config, string, error) {
	if path != "" {
		cfg, err := Load(path)
		return cfg, path, err
	}
	cfg, err := Load(DefaultPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), "", nil
	}
	if err != nil {
		return Config{}, "", err
	}
	return cfg, DefaultPath, nil
}

// Validate rejects values the checkers cannot work with.
func (c Config) Validate() error {
	if c.Root == "" {
		return errors.New("root must not be empty")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must not be empty")
	}
	if err := optionalSeverity("syntax.severity", c.Syntax.Severity); err != nil {
		return err
	}
	if err := optionalSeverity("exposure.protected_severity", c.Exposure.ProtectedSeverity); err != nil {
		return err
	}
	for _, d := range c.Permissions.Directories {
		if _, _, err := d.FileMode(); err != nil {
			return err
		}
	}
	for _, p := range c.Exposure.Patterns {
		if _, err := filepath.Match(p.Glob, ""); err != nil {
			return fmt.Errorf("invalid sensitive pattern %q: %w", p.Glob, err)
		}
		if !p.Severity.Valid() {
			return fmt.Errorf("sensitive pattern %q: unknown severity %q", p.Glob, p.Severity)
		}
	}
	for _, b := range c.UseBeforeDef.Bindings {
		if b.Name == "" {
			return errors.New("binding name must not be empty")
		}
		if err := optionalSeverity("binding "+b.Name, b.Severity); err != nil {
			return err
		}
	}
	for _, cc := range c.Database.Counts {
		if err := optionalSeverity("count check "+cc.Name, cc.Severity); err != nil {
			return err
		}
	}
	switch c.Database.Driver {
	case "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Remediation.PlanFile == "" {
		return errors.New("remediation plan_file must not be empty")
	}
	return nil
}

// optionalSeverity accepts an empty value, which the checkers replace with
// their default.
func optionalSeverity(field string, s audit.Severity) error {
	if s == "" || s.Valid() {
		return nil
	}
	return fmt.Errorf("%s: unknown severity %q", field, s)
}

// OutputPath resolves OutputDir against Root when it is relative.
func (c Config) OutputPath() string {
	if filepath.IsAbs(c.OutputDir) {
		return c.OutputDir
	}
	return filepath.Join(c.Root, c.OutputDir)
}
