package config

import (
	"fmt"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/denwal/poolgate/internal/database"
	"github.com/denwal/poolgate/internal/errs"
	"github.com/denwal/poolgate/internal/filestore"
)

// Migrate holds the configuration for the batch copy job. The job runs
// as its own process with its own connections; nothing here is shared
// with the query service.
type Migrate struct {
	Source database.Config `yaml:"source"`
	Target database.Config `yaml:"target"`

	// Tables to copy. Empty means discover every base table on the source.
	Tables []string `yaml:"tables"`

	// Workers is the number of tables copied in parallel.
	Workers int `yaml:"workers"`

	// BatchSize is the number of rows per upsert statement.
	BatchSize int `yaml:"batch_size"`

	Log    LogConfig    `yaml:"log"`
	Report ReportConfig `yaml:"report"`
}

// ReportConfig says where run reports go. An empty endpoint disables
// reporting; the copy itself is unaffected.
type ReportConfig struct {
	Store  filestore.Config `yaml:"store"`
	Bucket string           `yaml:"bucket"`
	Prefix string           `yaml:"prefix"`
}

// DefaultMigrate returns the built-in copy-job settings.
func DefaultMigrate() *Migrate {
	return &Migrate{
		Source:    database.DefaultConfig(),
		Target:    database.DefaultConfig(),
		Workers:   4,
		BatchSize: 500,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Report: ReportConfig{
			Bucket: "migrate-reports",
			Prefix: "runs",
		},
	}
}

// LoadMigrate builds the copy-job configuration from defaults, an
// optional YAML file, and SOURCE_DB_* / TARGET_DB_* environment
// variables.
func LoadMigrate(path string) (*Migrate, error) {
	cfg := DefaultMigrate()

	if path == "" {
		path = os.Getenv("MIGRATE_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfigMissing, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to parse config file", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *Migrate) applyEnv() {
	m.Source = databaseFromEnv("SOURCE_DB", m.Source)
	m.Target = databaseFromEnv("TARGET_DB", m.Target)

	if v := getEnv("MIGRATE_TABLES", ""); v != "" {
		m.Tables = splitTables(v)
	}
	m.Workers = getEnvInt("MIGRATE_WORKERS", m.Workers)
	m.BatchSize = getEnvInt("MIGRATE_BATCH_SIZE", m.BatchSize)

	m.Log.Level = getEnv("LOG_LEVEL", m.Log.Level)
	m.Log.Format = getEnv("LOG_FORMAT", m.Log.Format)

	m.Report.Store.Endpoint = getEnv("REPORT_ENDPOINT", m.Report.Store.Endpoint)
	m.Report.Store.AccessKey = getEnv("REPORT_ACCESS_KEY", m.Report.Store.AccessKey)
	m.Report.Store.SecretKey = getEnv("REPORT_SECRET_KEY", m.Report.Store.SecretKey)
	m.Report.Store.UseSSL = getEnvBool("REPORT_USE_SSL", m.Report.Store.UseSSL)
	m.Report.Store.Region = getEnv("REPORT_REGION", m.Report.Store.Region)
	m.Report.Bucket = getEnv("REPORT_BUCKET", m.Report.Bucket)
	m.Report.Prefix = getEnv("REPORT_PREFIX", m.Report.Prefix)
}

// Validate rejects configurations the copy job cannot run with. Unlike
// the query service, both databases are hard requirements here.
func (m *Migrate) Validate() error {
	if !m.Source.Configured() {
		return errs.New(errs.ErrKindConfigMissing, "source database is not configured")
	}
	if !m.Target.Configured() {
		return errs.New(errs.ErrKindConfigMissing, "target database is not configured")
	}
	if m.Workers < 1 {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("invalid worker count %d", m.Workers))
	}
	if m.BatchSize < 1 {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("invalid batch size %d", m.BatchSize))
	}
	return nil
}

// ReportEnabled says whether run reports should be published.
func (m *Migrate) ReportEnabled() bool {
	return m.Report.Store.Endpoint != ""
}

func splitTables(s string) []string {
	parts := strings.Split(s, ",")
	tables := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			tables = append(tables, t)
		}
	}
	return tables
}
