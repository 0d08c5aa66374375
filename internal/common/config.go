package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string           `toml:"environment"` // "development" or "production"
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LoggingConfig    `toml:"logging"`
	Vault       VaultConfig      `toml:"vault"`
	Sessions    SessionsConfig   `toml:"sessions"`
	Emulation   EmulationConfig  `toml:"emulation"`
	Auth        AuthConfig       `toml:"auth"`
	Extraction  ExtractionConfig `toml:"extraction"`
	Egress      EgressConfig     `toml:"egress"`
	Browser     BrowserConfig    `toml:"browser"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// VaultConfig holds credential vault settings. The key is supplied externally
// (config file or COLLIGO_VAULT_KEY), never embedded with the ciphertext.
type VaultConfig struct {
	// Key is the hex-encoded 32-byte AES-256 key for credential encryption.
	Key string `toml:"key" validate:"required,len=64,hexadecimal"`
}

// SessionsConfig controls session lifecycle behavior.
type SessionsConfig struct {
	TTL           time.Duration `toml:"ttl"`            // Absolute session lifetime from creation
	SweepSchedule string        `toml:"sweep_schedule"` // Cron schedule for the TTL expiry sweep
	IdleTimeout   time.Duration `toml:"idle_timeout"`   // Job fails after this long without progress
}

// EmulationConfig bounds the behavioral emulation layer's randomized timing.
type EmulationConfig struct {
	Seed            int64         `toml:"seed"`              // 0 = time-seeded; fixed value for reproducible runs
	KeystrokeMin    time.Duration `toml:"keystroke_min"`     // Minimum inter-keystroke delay
	KeystrokeMax    time.Duration `toml:"keystroke_max"`     // Maximum inter-keystroke delay
	PointerStepMin  time.Duration `toml:"pointer_step_min"`  // Minimum delay between pointer path steps
	PointerStepMax  time.Duration `toml:"pointer_step_max"`  // Maximum delay between pointer path steps
	PacingMin       time.Duration `toml:"pacing_min"`        // Minimum delay between extraction iterations
	PacingMax       time.Duration `toml:"pacing_max"`        // Maximum delay between extraction iterations
	ThinkPauseEvery int           `toml:"think_pause_every"` // Insert a longer pause roughly every N keystrokes
}

// AuthConfig controls the authentication state machine.
type AuthConfig struct {
	ChallengeTimeout time.Duration `toml:"challenge_timeout"` // Bounded wait for an externally supplied step-up code
	RetryAttempts    int           `toml:"retry_attempts"`    // Bounded retries for transient network failures
	RetryBackoff     time.Duration `toml:"retry_backoff"`     // Initial backoff duration
	LoginURL         string        `toml:"login_url"`         // Login surface of the target platform
}

// ExtractionConfig controls the extraction job runner.
type ExtractionConfig struct {
	EmptyIterationThreshold int           `toml:"empty_iteration_threshold" validate:"gt=0"` // Consecutive empty pages before completion
	PageTimeout             time.Duration `toml:"page_timeout"`                              // Per-page fetch timeout
	ListURL                 string        `toml:"list_url"`                                  // Relationship list surface of the target platform
	Workers                 int           `toml:"workers"`                                   // Concurrent background job slots
	PollInterval            time.Duration `toml:"poll_interval"`                             // How often the dispatcher looks for queued jobs
}

// EgressConfig configures the identity router's pool.
type EgressConfig struct {
	// Identities lists the egress endpoints (proxy URLs) available for sticky
	// per-session binding. An empty pool means direct egress for every session.
	Identities []string `toml:"identities"`
}

// BrowserConfig holds chromedp settings for the automated browser surface.
type BrowserConfig struct {
	UserAgent      string        `toml:"user_agent"`
	Headless       bool          `toml:"headless"`
	DisableGPU     bool          `toml:"disable_gpu"`
	NoSandbox      bool          `toml:"no_sandbox"`
	RenderWaitTime time.Duration `toml:"render_wait_time"` // Time to allow the page to settle after navigation
	RequestTimeout time.Duration `toml:"request_timeout"`
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	MinLevel         string   `toml:"min_level"`         // Minimum log level to broadcast
	ExcludePatterns  []string `toml:"exclude_patterns"`  // Log message patterns to exclude from broadcasting
	ProgressInterval string   `toml:"progress_interval"` // Throttle interval for job progress events (e.g., "1s")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in colligo.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Vault: VaultConfig{
			Key: "", // Must be provided via config file or COLLIGO_VAULT_KEY
		},
		Sessions: SessionsConfig{
			TTL:           30 * 24 * time.Hour, // Absolute ceiling; renewal never extends it
			SweepSchedule: "*/15 * * * *",       // Every 15 minutes
			IdleTimeout:   10 * time.Minute,
		},
		Emulation: EmulationConfig{
			Seed:            0,
			KeystrokeMin:    60 * time.Millisecond,
			KeystrokeMax:    240 * time.Millisecond,
			PointerStepMin:  8 * time.Millisecond,
			PointerStepMax:  28 * time.Millisecond,
			PacingMin:       2 * time.Second,
			PacingMax:       7 * time.Second,
			ThinkPauseEvery: 9,
		},
		Auth: AuthConfig{
			ChallengeTimeout: 3 * time.Minute,
			RetryAttempts:    3,
			RetryBackoff:     time.Second,
		},
		Extraction: ExtractionConfig{
			EmptyIterationThreshold: 3,
			PageTimeout:             30 * time.Second,
			Workers:                 2,
			PollInterval:            time.Second,
		},
		Egress: EgressConfig{
			Identities: []string{},
		},
		Browser: BrowserConfig{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			Headless:       true,
			DisableGPU:     true,
			NoSandbox:      false,
			RenderWaitTime: 3 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
			},
			ProgressInterval: "1s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// Validate checks the resolved configuration against its struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Emulation.PacingMin > c.Emulation.PacingMax {
		return fmt.Errorf("invalid configuration: emulation pacing_min exceeds pacing_max")
	}
	if c.Emulation.KeystrokeMin > c.Emulation.KeystrokeMax {
		return fmt.Errorf("invalid configuration: emulation keystroke_min exceeds keystroke_max")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("COLLIGO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("COLLIGO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if host := os.Getenv("COLLIGO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if path := os.Getenv("COLLIGO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	if level := os.Getenv("COLLIGO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	// Vault key is most commonly supplied via environment to keep it out of
	// config files on disk.
	if key := os.Getenv("COLLIGO_VAULT_KEY"); key != "" {
		config.Vault.Key = key
	}

	if ttl := os.Getenv("COLLIGO_SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Sessions.TTL = d
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
