package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Data backends.
const (
	BackendFS     = "fs"
	BackendSQLite = "sqlite"
	BackendMinio  = "minio"
)

// Remote modes.
const (
	RemoteNone = "none"
	RemoteHTTP = "http"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeSession  = "session"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Data   DataConfig        `yaml:"data"`
	Remote RemoteConfig      `yaml:"remote"`
	Sync   SyncConfig        `yaml:"sync"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataConfig selects the durable storage backend holding the encrypted
// records.
//
//   - "fs" (default): one blob file per record under Path.
//   - "sqlite": a blobs table in the database at Path.
//   - "minio": objects in the configured bucket.
type DataConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"`
	Minio   MinioConfig `yaml:"minio"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = BackendFS
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendFS, BackendSQLite, BackendMinio)),
	); err != nil {
		return err
	}
	if c.Backend != BackendMinio && c.Path == "" {
		return fmt.Errorf("data: backend %q requires a path", c.Backend)
	}
	if c.Backend == BackendMinio {
		return c.Minio.Validate()
	}
	return nil
}

// MinioConfig holds object-store connection settings.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Validate validates the object-store configuration.
func (c *MinioConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Endpoint, validation.Required),
		validation.Field(&c.AccessKey, validation.Required),
		validation.Field(&c.SecretKey, validation.Required),
		validation.Field(&c.Bucket, validation.Required),
	)
}

// RemoteConfig points at the sync peer. Mode "none" keeps the instance
// permanently offline-capable with no remote at all.
type RemoteConfig struct {
	Mode  string `yaml:"mode"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// Validate validates the remote configuration.
func (c *RemoteConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = RemoteNone
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(RemoteNone, RemoteHTTP)),
	); err != nil {
		return err
	}
	if c.Mode == RemoteHTTP && c.URL == "" {
		return fmt.Errorf("remote: mode is %q but url is empty", RemoteHTTP)
	}
	return nil
}

// Enabled reports whether a sync peer is configured.
func (c *RemoteConfig) Enabled() bool {
	return c.Mode == RemoteHTTP
}

// SyncConfig tunes the outbox drain behavior.
type SyncConfig struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
	StartOnline bool          `yaml:"start_online"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if c.BackoffBase < 0 || c.BackoffCap < 0 {
		return fmt.Errorf("sync: backoff durations must not be negative")
	}
	if c.BackoffBase > 0 && c.BackoffCap > 0 && c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("sync: backoff_cap below backoff_base")
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how the API is protected:
//   - "disabled" (default): no sessions, suitable for a single local user.
//   - "session": password login issues Redis-backed Bearer tokens.
//
// Password is the vault password in both modes; load it from the
// environment via ${LAGUZ_PASSWORD} expansion rather than writing it
// into the file.
type AuthConfig struct {
	Mode     string        `yaml:"mode"`
	Password string        `yaml:"password"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeSession)),
		validation.Field(&c.Password, validation.Required),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeSession && c.RedisURL == "" {
		return fmt.Errorf("auth: mode is %q but redis_url is empty", AuthModeSession)
	}
	return nil
}

// SessionsEnabled returns true when session auth is active.
func (c *AuthConfig) SessionsEnabled() bool {
	return c.Mode == AuthModeSession
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Data: DataConfig{
			Backend: BackendFS,
			Path:    "./data",
		},
		Remote: RemoteConfig{
			Mode: RemoteNone,
		},
		Sync: SyncConfig{
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
			TTL:  24 * time.Hour,
		},
	}
}
