package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for kioku.
type Config struct {
	UserID     string           `toml:"user_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	DataDir    string           `toml:"data_dir"`
	Remote     RemoteConfig     `toml:"remote"`
	Encryption EncryptionConfig `toml:"encryption"`
	Queue      QueueConfig      `toml:"queue"`
	Sync       SyncConfig       `toml:"sync"`
	Review     ReviewConfig     `toml:"review"`
	Cards      CardsConfig      `toml:"cards"`
	Filesystem FilesystemConfig `toml:"filesystem"`
}

// RemoteConfig selects the blob store decks are synced to.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type RemoteConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // S3-compatible servers (MinIO)
	S3AccessKey string `toml:"s3_access_key,omitempty"` // empty = default AWS credential chain
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for remote blobs.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
}

// QueueConfig represents configuration for the unsynced-deck queue.
type QueueConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// SyncConfig holds sync timing. Durations use time.ParseDuration syntax.
type SyncConfig struct {
	DeckTimeout   string `toml:"deck_timeout,omitempty"`
	DrainDelay    string `toml:"drain_delay,omitempty"`
	BackoffBase   string `toml:"backoff_base,omitempty"`
	BackoffMax    string `toml:"backoff_max,omitempty"`
	DrainSchedule string `toml:"drain_schedule,omitempty"` // cron spec; empty disables periodic drains
}

// ReviewConfig holds review session settings.
type ReviewConfig struct {
	ScanInterval string `toml:"scan_interval,omitempty"`
}

// CardsConfig holds card storage settings.
type CardsConfig struct {
	BackupDirs []string `toml:"backup_dirs,omitempty"` // deck-relative directories searched for placeholder recovery
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// Defaults for the duration settings.
const (
	DefaultDeckTimeout  = 15 * time.Second
	DefaultDrainDelay   = 2 * time.Second
	DefaultBackoffBase  = 30 * time.Second
	DefaultBackoffMax   = 30 * time.Minute
	DefaultScanInterval = 30 * time.Second
)

func parseDuration(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: negative", name, raw)
	}
	return d, nil
}

// DeckTimeoutDuration bounds one deck sync.
func (c SyncConfig) DeckTimeoutDuration() (time.Duration, error) {
	return parseDuration("deck_timeout", c.DeckTimeout, DefaultDeckTimeout)
}

// DrainDelayDuration is the pause between decks during a queue drain.
func (c SyncConfig) DrainDelayDuration() (time.Duration, error) {
	return parseDuration("drain_delay", c.DrainDelay, DefaultDrainDelay)
}

// BackoffBaseDuration is the retry delay after the first failure.
func (c SyncConfig) BackoffBaseDuration() (time.Duration, error) {
	return parseDuration("backoff_base", c.BackoffBase, DefaultBackoffBase)
}

// BackoffMaxDuration caps the retry delay.
func (c SyncConfig) BackoffMaxDuration() (time.Duration, error) {
	return parseDuration("backoff_max", c.BackoffMax, DefaultBackoffMax)
}

// ScanIntervalDuration is the period of the mid-session reprioritization scan.
func (c ReviewConfig) ScanIntervalDuration() (time.Duration, error) {
	return parseDuration("scan_interval", c.ScanInterval, DefaultScanInterval)
}

// Validate checks the tagged unions and duration settings.
func (c *Config) Validate() error {
	switch c.Remote.Type {
	case "", "memory":
	case "filesystem":
		if c.Remote.FSRoot == "" {
			return fmt.Errorf("remote: fs_root required for filesystem remote")
		}
	case "s3":
		if c.Remote.S3Bucket == "" {
			return fmt.Errorf("remote: s3_bucket required for s3 remote")
		}
	default:
		return fmt.Errorf("remote: unknown type %q", c.Remote.Type)
	}

	switch c.Encryption.Type {
	case "", "none", "test":
	case "age":
		if c.Encryption.PublicKeyPath == "" || c.Encryption.PrivateKeyPath == "" {
			return fmt.Errorf("encryption: age requires public_key_path and private_key_path")
		}
	default:
		return fmt.Errorf("encryption: unknown type %q", c.Encryption.Type)
	}

	switch c.Queue.Type {
	case "", "memory":
	case "sqlite":
		if c.Queue.DataDir == "" {
			return fmt.Errorf("queue: data_dir required for sqlite queue")
		}
	default:
		return fmt.Errorf("queue: unknown type %q", c.Queue.Type)
	}

	checks := []func() (time.Duration, error){
		c.Sync.DeckTimeoutDuration,
		c.Sync.DrainDelayDuration,
		c.Sync.BackoffBaseDuration,
		c.Sync.BackoffMaxDuration,
		c.Review.ScanIntervalDuration,
	}
	for _, check := range checks {
		if _, err := check(); err != nil {
			return err
		}
	}
	return nil
}

// NewConfig creates a new Config with the provided values and defaults
// derived from baseDir.
func NewConfig(userID, baseDir string) *Config {
	return &Config{
		UserID:  userID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		DataDir: filepath.Join(baseDir, "decks"),
		Remote: RemoteConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "remote"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "kioku.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "kioku.key"),
		},
		Queue: QueueConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Sync: SyncConfig{
			DeckTimeout: DefaultDeckTimeout.String(),
			DrainDelay:  DefaultDrainDelay.String(),
			BackoffBase: DefaultBackoffBase.String(),
			BackoffMax:  DefaultBackoffMax.String(),
		},
		Review: ReviewConfig{
			ScanInterval: DefaultScanInterval.String(),
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

// ReadFromFile reads and validates a Config from the specified file path.
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
