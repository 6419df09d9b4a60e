package config

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the full docsnap configuration. It is read once at startup and
// passed explicitly into component constructors; nothing below the app layer
// reads environment variables.
type Config struct {
	// Instance names this deployment. It partitions the remote
	// namespace so snapshots from different instances never mix.
	Instance string `toml:"instance"`
	// HostID identifies this host in snapshot provenance.
	HostID string `toml:"host_id"`
	// AppVersion is the deployed application version tag recorded in
	// manifests, if known.
	AppVersion string `toml:"app_version,omitempty"`

	// DataRoot holds the stack's domain directories (media, data,
	// export).
	DataRoot string `toml:"data_root"`
	// ConfigDir holds the instance configuration bundle (env file,
	// compose file) captured as the config domain.
	ConfigDir string `toml:"config_dir"`
	// StateDir holds the instance lock, change tokens, and catalog.
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`

	Remote     RemoteConfig     `toml:"remote"`
	Runtime    RuntimeConfig    `toml:"runtime"`
	Database   DatabaseConfig   `toml:"database"`
	Retention  RetentionConfig  `toml:"retention"`
	Encryption EncryptionConfig `toml:"encryption"`
	Restore    RestoreConfig    `toml:"restore"`
}

// RemoteConfig selects and configures the remote store backend.
// This uses a tagged union pattern - the Type field determines which other
// fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "s3", "filesystem", or "memory"
	// Prefix is joined with the instance name to form the namespace.
	Prefix string `toml:"prefix"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// RuntimeConfig locates the container stack.
type RuntimeConfig struct {
	ComposeFile string `toml:"compose_file"`
	ProjectName string `toml:"project_name"`
}

// DatabaseConfig names the relational store inside the stack.
type DatabaseConfig struct {
	Service string `toml:"service"` // compose service name, e.g. "db"
	User    string `toml:"user"`
	Name    string `toml:"name"`
}

// RetentionConfig drives pruning.
type RetentionConfig struct {
	KeepDays            int  `toml:"keep_days"`
	ArchiveDays         int  `toml:"archive_days"`
	MonthlyArchivesOnly bool `toml:"monthly_archives_only"`
	PruneAfterCreate    bool `toml:"prune_after_create"`
}

// EncryptionConfig controls sealing of the config bundle. When Enabled, the
// passphrase comes from PassphraseFile if set, otherwise from an interactive
// prompt.
type EncryptionConfig struct {
	Enabled        bool   `toml:"enabled"`
	PassphraseFile string `toml:"passphrase_file,omitempty"`
}

// RestoreConfig bounds chain resolution.
type RestoreConfig struct {
	MaxChainHops int `toml:"max_chain_hops"`
}

// Namespace returns the remote prefix for this instance.
func (c *Config) Namespace() string {
	return path.Join(c.Remote.Prefix, c.Instance)
}

// Domains maps logical domain names to their local roots.
func (c *Config) Domains() map[string]string {
	return map[string]string{
		"media":  filepath.Join(c.DataRoot, "media"),
		"data":   filepath.Join(c.DataRoot, "data"),
		"export": filepath.Join(c.DataRoot, "export"),
		"config": c.ConfigDir,
	}
}

// NewConfig creates a Config with the provided identity and default layout.
func NewConfig(instance, hostID, baseDir string) *Config {
	return &Config{
		Instance:  instance,
		HostID:    hostID,
		DataRoot:  filepath.Join(baseDir, instance),
		ConfigDir: filepath.Join(baseDir, instance+"-setup"),
		StateDir:  filepath.Join(baseDir, instance, ".docsnap"),
		LogDir:    filepath.Join(baseDir, instance, ".docsnap", "log"),
		Remote: RemoteConfig{
			Type:   "s3",
			Prefix: "backups/docsnap",
		},
		Runtime: RuntimeConfig{
			ComposeFile: filepath.Join(baseDir, instance+"-setup", "docker-compose.yml"),
			ProjectName: instance,
		},
		Database: DatabaseConfig{
			Service: "db",
			User:    "paperless",
			Name:    "paperless",
		},
		Retention: RetentionConfig{
			KeepDays:            30,
			ArchiveDays:         180,
			MonthlyArchivesOnly: true,
			PruneAfterCreate:    true,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the
// provided Config. Fails if one already exists.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
