// Package config loads and merges daemon configuration: the registered
// folder list, embedding defaults, indexing limits, and server transport
// settings. Precedence, lowest to highest: hardcoded defaults, user config
// (~/.config/foldermcp/config.yaml), per-run overrides from flags, and
// FOLDERMCP_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Folders    []FolderConfig   `yaml:"folders" json:"folders"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig   `yaml:"indexing" json:"indexing"`
	Resources  ResourcesConfig  `yaml:"resources" json:"resources"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	UI         UIConfig         `yaml:"ui" json:"ui"`
}

// FolderConfig registers one document folder with the daemon.
type FolderConfig struct {
	// Path is the folder's absolute root directory. It is the folder's
	// identity: two entries with the same path are rejected.
	Path string `yaml:"path" json:"path"`
	// Model overrides the daemon-wide embedding model for this folder.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`
	// Languages biases model recommendation for this folder's documents
	// (ISO 639-1 codes). Empty means English.
	Languages []string `yaml:"languages,omitempty" json:"languages,omitempty"`
}

// PathsConfig configures which files inside a folder are indexed.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider picks a backend explicitly: "gpu", "cpu", "daemon", or
	// "static". Empty selects assisted mode, where the hardware detector
	// recommends gpu or cpu.
	Provider string `yaml:"provider" json:"provider"`
	// Model is the curated catalog model id. Empty takes the top assisted
	// recommendation.
	Model                string        `yaml:"model" json:"model"`
	Dimensions           int           `yaml:"dimensions" json:"dimensions"`
	BatchSize            int           `yaml:"batch_size" json:"batch_size"`
	ModelDownloadTimeout time.Duration `yaml:"model_download_timeout" json:"model_download_timeout"`

	// DaemonAddr is the endpoint of a user-managed local inference daemon.
	// Only used when Provider is "daemon".
	DaemonAddr string `yaml:"daemon_addr" json:"daemon_addr"`

	// ModelsDir is where downloaded model files live.
	// Defaults to ~/.cache/folder-mcp/models.
	ModelsDir string `yaml:"models_dir" json:"models_dir"`
}

// IndexingConfig bounds the parse-chunk-embed-persist pipeline.
type IndexingConfig struct {
	// MinChunkTokens/MaxChunkTokens bound chunk sizes.
	MinChunkTokens int `yaml:"min_chunk_tokens" json:"min_chunk_tokens"`
	MaxChunkTokens int `yaml:"max_chunk_tokens" json:"max_chunk_tokens"`
	// OverlapPercent is the maximum overlap between adjacent chunks.
	OverlapPercent int `yaml:"overlap_percent" json:"overlap_percent"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	// MaxRetries bounds per-task embedding retries.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// FileTimeout bounds one file's embedding calls, e.g. "60s".
	FileTimeout string `yaml:"file_timeout" json:"file_timeout"`
	// WatchDebounce coalesces filesystem events, e.g. "500ms".
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// ResourcesConfig bounds the process-wide resource manager.
type ResourcesConfig struct {
	// MaxConcurrentOperations caps tasks running at once across all folders.
	MaxConcurrentOperations int `yaml:"max_concurrent_operations" json:"max_concurrent_operations"`
	// MaxQueueSize caps tasks waiting for admission.
	MaxQueueSize int `yaml:"max_queue_size" json:"max_queue_size"`
	// MemoryLimit is a soft budget like "2GB", or "auto".
	MemoryLimit string `yaml:"memory_limit" json:"memory_limit"`
	// MaxConsecutiveErrors sends a folder to the error state once this many
	// tasks fail back to back.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors" json:"max_consecutive_errors"`
}

// ServerConfig configures the RPC transports.
type ServerConfig struct {
	Transport  string `yaml:"transport" json:"transport"` // "stdio" or "socket"
	Port       int    `yaml:"port" json:"port"`
	SocketPath string `yaml:"socket_path" json:"socket_path"`
	PIDFile    string `yaml:"pid_file" json:"pid_file"`
	LogLevel   string `yaml:"log_level" json:"log_level"`
}

// UIConfig configures the terminal UI.
type UIConfig struct {
	Theme   string `yaml:"theme" json:"theme"`
	NoColor bool   `yaml:"no_color" json:"no_color"`
}

// Themes lists the selectable UI theme names, default first.
func Themes() []string {
	return []string{"default", "dark", "light", "mono"}
}

// ValidTheme reports whether name is a known theme.
func ValidTheme(name string) bool {
	for _, t := range Themes() {
		if t == name {
			return true
		}
	}
	return false
}

// defaultExcludePatterns are always excluded from scanning.
var defaultExcludePatterns = []string{
	"**/.folder-mcp/**",
	"**/.git/**",
	"**/~$*", // office lock files
	"**/*.tmp",
	"**/Thumbs.db",
	"**/.DS_Store",
}

// NewConfig creates a Config with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Embeddings: EmbeddingsConfig{
			Provider:             "", // assisted auto-selection
			Model:                "",
			Dimensions:           0, // taken from the selected model
			BatchSize:            32,
			ModelDownloadTimeout: 10 * time.Minute,
			DaemonAddr:           "", // backend default when provider is "daemon"
			ModelsDir:            DefaultModelsDir(),
		},
		Indexing: IndexingConfig{
			MinChunkTokens: 200,
			MaxChunkTokens: 500,
			OverlapPercent: 10,
			MaxFileSize:    50 * 1024 * 1024,
			MaxRetries:     3,
			FileTimeout:    "60s",
			WatchDebounce:  "500ms",
		},
		Resources: ResourcesConfig{
			MaxConcurrentOperations: 2,
			MaxQueueSize:            100,
			MemoryLimit:             "auto",
			MaxConsecutiveErrors:    5,
		},
		Server: ServerConfig{
			Transport: "stdio",
			Port:      9757,
			LogLevel:  "info",
		},
		UI: UIConfig{
			Theme: "default",
		},
	}
}

// DefaultModelsDir returns the process-wide model cache directory.
func DefaultModelsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "folder-mcp", "models")
	}
	return filepath.Join(home, ".cache", "folder-mcp", "models")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/foldermcp/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/foldermcp/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foldermcp", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "foldermcp", "config.yaml")
	}
	return filepath.Join(home, ".config", "foldermcp", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load builds the effective configuration:
//  1. Hardcoded defaults
//  2. User config (~/.config/foldermcp/config.yaml)
//  3. Environment variables (FOLDERMCP_*)
func Load() (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Folders) > 0 {
		c.Folders = other.Folders
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		// User excludes extend the built-in ones rather than replace them.
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.ModelDownloadTimeout != 0 {
		c.Embeddings.ModelDownloadTimeout = other.Embeddings.ModelDownloadTimeout
	}
	if other.Embeddings.DaemonAddr != "" {
		c.Embeddings.DaemonAddr = other.Embeddings.DaemonAddr
	}
	if other.Embeddings.ModelsDir != "" {
		c.Embeddings.ModelsDir = other.Embeddings.ModelsDir
	}

	if other.Indexing.MinChunkTokens != 0 {
		c.Indexing.MinChunkTokens = other.Indexing.MinChunkTokens
	}
	if other.Indexing.MaxChunkTokens != 0 {
		c.Indexing.MaxChunkTokens = other.Indexing.MaxChunkTokens
	}
	if other.Indexing.OverlapPercent != 0 {
		c.Indexing.OverlapPercent = other.Indexing.OverlapPercent
	}
	if other.Indexing.MaxFileSize != 0 {
		c.Indexing.MaxFileSize = other.Indexing.MaxFileSize
	}
	if other.Indexing.MaxRetries != 0 {
		c.Indexing.MaxRetries = other.Indexing.MaxRetries
	}
	if other.Indexing.FileTimeout != "" {
		c.Indexing.FileTimeout = other.Indexing.FileTimeout
	}
	if other.Indexing.WatchDebounce != "" {
		c.Indexing.WatchDebounce = other.Indexing.WatchDebounce
	}

	if other.Resources.MaxConcurrentOperations != 0 {
		c.Resources.MaxConcurrentOperations = other.Resources.MaxConcurrentOperations
	}
	if other.Resources.MaxQueueSize != 0 {
		c.Resources.MaxQueueSize = other.Resources.MaxQueueSize
	}
	if other.Resources.MemoryLimit != "" {
		c.Resources.MemoryLimit = other.Resources.MemoryLimit
	}
	if other.Resources.MaxConsecutiveErrors != 0 {
		c.Resources.MaxConsecutiveErrors = other.Resources.MaxConsecutiveErrors
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.Port != 0 {
		c.Server.Port = other.Server.Port
	}
	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.PIDFile != "" {
		c.Server.PIDFile = other.Server.PIDFile
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	if other.UI.Theme != "" {
		c.UI.Theme = other.UI.Theme
	}
	if other.UI.NoColor {
		c.UI.NoColor = true
	}
}

// applyEnvOverrides applies FOLDERMCP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FOLDERMCP_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	// FOLDERMCP_EMBEDDER is an alias for FOLDERMCP_EMBEDDINGS_PROVIDER
	if v := os.Getenv("FOLDERMCP_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("FOLDERMCP_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("FOLDERMCP_DAEMON_ADDR"); v != "" {
		c.Embeddings.DaemonAddr = v
	}
	if v := os.Getenv("FOLDERMCP_MODELS_DIR"); v != "" {
		c.Embeddings.ModelsDir = v
	}
	if v := os.Getenv("FOLDERMCP_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("FOLDERMCP_TRANSPORT"); v != "" {
		c.Server.Transport = v
	}
	if v := os.Getenv("FOLDERMCP_MAX_CONCURRENT_OPERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Resources.MaxConcurrentOperations = n
		}
	}
	if v := os.Getenv("FOLDERMCP_THEME"); v != "" {
		c.UI.Theme = v
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Folders))
	for _, f := range c.Folders {
		if f.Path == "" {
			return fmt.Errorf("folders: path must not be empty")
		}
		norm := strings.TrimRight(f.Path, "/")
		if norm == "" {
			norm = "/"
		}
		if seen[norm] {
			return fmt.Errorf("folders: duplicate path %q", f.Path)
		}
		seen[norm] = true
	}

	switch c.Embeddings.Provider {
	case "", "gpu", "cpu", "daemon", "static":
	default:
		return fmt.Errorf("embeddings: unknown provider %q (use gpu, cpu, daemon, or static)", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize < 0 {
		return fmt.Errorf("embeddings: batch_size must not be negative")
	}

	if c.Indexing.MinChunkTokens <= 0 || c.Indexing.MaxChunkTokens <= 0 {
		return fmt.Errorf("indexing: chunk token bounds must be positive")
	}
	if c.Indexing.MinChunkTokens > c.Indexing.MaxChunkTokens {
		return fmt.Errorf("indexing: min_chunk_tokens (%d) exceeds max_chunk_tokens (%d)",
			c.Indexing.MinChunkTokens, c.Indexing.MaxChunkTokens)
	}
	if c.Indexing.OverlapPercent < 0 || c.Indexing.OverlapPercent > 50 {
		return fmt.Errorf("indexing: overlap_percent must be in [0, 50]")
	}
	if c.Indexing.FileTimeout != "" {
		if _, err := time.ParseDuration(c.Indexing.FileTimeout); err != nil {
			return fmt.Errorf("indexing: invalid file_timeout: %w", err)
		}
	}
	if c.Indexing.WatchDebounce != "" {
		if _, err := time.ParseDuration(c.Indexing.WatchDebounce); err != nil {
			return fmt.Errorf("indexing: invalid watch_debounce: %w", err)
		}
	}

	if c.Resources.MaxConcurrentOperations <= 0 {
		return fmt.Errorf("resources: max_concurrent_operations must be positive")
	}
	if c.Resources.MaxQueueSize <= 0 {
		return fmt.Errorf("resources: max_queue_size must be positive")
	}
	if c.Resources.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("resources: max_consecutive_errors must be positive")
	}

	switch c.Server.Transport {
	case "", "stdio", "socket":
	default:
		return fmt.Errorf("server: unknown transport %q (use stdio or socket)", c.Server.Transport)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port must be in [0, 65535]")
	}
	switch c.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server: unknown log_level %q (use debug, info, warn, or error)", c.Server.LogLevel)
	}

	if c.UI.Theme != "" && !ValidTheme(c.UI.Theme) {
		return fmt.Errorf("ui: unknown theme %q (available: %s)", c.UI.Theme, strings.Join(Themes(), ", "))
	}

	return nil
}

// AddFolder registers a folder path, normalizing trailing slashes.
// Returns an error if the path is already registered.
func (c *Config) AddFolder(f FolderConfig) error {
	f.Path = NormalizeFolderPath(f.Path)
	for _, existing := range c.Folders {
		if NormalizeFolderPath(existing.Path) == f.Path {
			return fmt.Errorf("folder already registered: %s", f.Path)
		}
	}
	c.Folders = append(c.Folders, f)
	return nil
}

// RemoveFolder unregisters a folder path. Returns false if it was not
// registered.
func (c *Config) RemoveFolder(path string) bool {
	path = NormalizeFolderPath(path)
	for i, f := range c.Folders {
		if NormalizeFolderPath(f.Path) == path {
			c.Folders = append(c.Folders[:i], c.Folders[i+1:]...)
			return true
		}
	}
	return false
}

// NormalizeFolderPath strips trailing slashes and cleans the path, so
// "/docs/hr/" and "/docs/hr" identify the same folder.
func NormalizeFolderPath(path string) string {
	if path == "" {
		return path
	}
	cleaned := filepath.Clean(path)
	return cleaned
}

// Get returns a configuration value by dotted key, e.g. "embeddings.model"
// or "resources.max_concurrent_operations".
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "embeddings.provider":
		return c.Embeddings.Provider, nil
	case "embeddings.model":
		return c.Embeddings.Model, nil
	case "embeddings.batch_size":
		return strconv.Itoa(c.Embeddings.BatchSize), nil
	case "embeddings.daemon_addr":
		return c.Embeddings.DaemonAddr, nil
	case "embeddings.models_dir":
		return c.Embeddings.ModelsDir, nil
	case "indexing.min_chunk_tokens":
		return strconv.Itoa(c.Indexing.MinChunkTokens), nil
	case "indexing.max_chunk_tokens":
		return strconv.Itoa(c.Indexing.MaxChunkTokens), nil
	case "indexing.overlap_percent":
		return strconv.Itoa(c.Indexing.OverlapPercent), nil
	case "indexing.max_retries":
		return strconv.Itoa(c.Indexing.MaxRetries), nil
	case "indexing.file_timeout":
		return c.Indexing.FileTimeout, nil
	case "resources.max_concurrent_operations":
		return strconv.Itoa(c.Resources.MaxConcurrentOperations), nil
	case "resources.max_queue_size":
		return strconv.Itoa(c.Resources.MaxQueueSize), nil
	case "resources.memory_limit":
		return c.Resources.MemoryLimit, nil
	case "resources.max_consecutive_errors":
		return strconv.Itoa(c.Resources.MaxConsecutiveErrors), nil
	case "server.transport":
		return c.Server.Transport, nil
	case "server.port":
		return strconv.Itoa(c.Server.Port), nil
	case "server.log_level":
		return c.Server.LogLevel, nil
	case "ui.theme":
		return c.UI.Theme, nil
	default:
		return "", fmt.Errorf("unknown config key: %s", key)
	}
}

// Set assigns a configuration value by dotted key, parsing and validating
// the string form.
func (c *Config) Set(key, value string) error {
	atoi := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("%s: expected integer, got %q", key, value)
		}
		return n, nil
	}

	switch key {
	case "embeddings.provider":
		c.Embeddings.Provider = value
	case "embeddings.model":
		c.Embeddings.Model = value
	case "embeddings.batch_size":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Embeddings.BatchSize = n
	case "embeddings.daemon_addr":
		c.Embeddings.DaemonAddr = value
	case "embeddings.models_dir":
		c.Embeddings.ModelsDir = value
	case "indexing.min_chunk_tokens":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Indexing.MinChunkTokens = n
	case "indexing.max_chunk_tokens":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Indexing.MaxChunkTokens = n
	case "indexing.overlap_percent":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Indexing.OverlapPercent = n
	case "indexing.max_retries":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Indexing.MaxRetries = n
	case "indexing.file_timeout":
		c.Indexing.FileTimeout = value
	case "resources.max_concurrent_operations":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Resources.MaxConcurrentOperations = n
	case "resources.max_queue_size":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Resources.MaxQueueSize = n
	case "resources.memory_limit":
		c.Resources.MemoryLimit = value
	case "resources.max_consecutive_errors":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Resources.MaxConsecutiveErrors = n
	case "server.transport":
		c.Server.Transport = value
	case "server.port":
		n, err := atoi()
		if err != nil {
			return err
		}
		c.Server.Port = n
	case "server.log_level":
		c.Server.LogLevel = value
	case "ui.theme":
		c.UI.Theme = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return c.Validate()
}

// Keys lists every key Get/Set understand, sorted.
func Keys() []string {
	keys := []string{
		"embeddings.provider",
		"embeddings.model",
		"embeddings.batch_size",
		"embeddings.daemon_addr",
		"embeddings.models_dir",
		"indexing.min_chunk_tokens",
		"indexing.max_chunk_tokens",
		"indexing.overlap_percent",
		"indexing.max_retries",
		"indexing.file_timeout",
		"resources.max_concurrent_operations",
		"resources.max_queue_size",
		"resources.memory_limit",
		"resources.max_consecutive_errors",
		"server.transport",
		"server.port",
		"server.log_level",
		"ui.theme",
	}
	sort.Strings(keys)
	return keys
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves a truncated
	// config behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads just the user config file, without defaults merged
// in. Returns nil if no user config exists.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read user config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}
	return &cfg, nil
}

// MergeNewDefaults fills zero-valued fields with current defaults and
// returns the names of the fields it filled. Used by `config validate
// --fix` style upgrades after new options ship.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Embeddings.BatchSize == 0 {
		c.Embeddings.BatchSize = defaults.Embeddings.BatchSize
		added = append(added, "embeddings.batch_size")
	}
	if c.Embeddings.ModelDownloadTimeout == 0 {
		c.Embeddings.ModelDownloadTimeout = defaults.Embeddings.ModelDownloadTimeout
		added = append(added, "embeddings.model_download_timeout")
	}
	if c.Embeddings.ModelsDir == "" {
		c.Embeddings.ModelsDir = defaults.Embeddings.ModelsDir
		added = append(added, "embeddings.models_dir")
	}
	if c.Indexing.MinChunkTokens == 0 {
		c.Indexing.MinChunkTokens = defaults.Indexing.MinChunkTokens
		added = append(added, "indexing.min_chunk_tokens")
	}
	if c.Indexing.MaxChunkTokens == 0 {
		c.Indexing.MaxChunkTokens = defaults.Indexing.MaxChunkTokens
		added = append(added, "indexing.max_chunk_tokens")
	}
	if c.Indexing.OverlapPercent == 0 {
		c.Indexing.OverlapPercent = defaults.Indexing.OverlapPercent
		added = append(added, "indexing.overlap_percent")
	}
	if c.Indexing.MaxRetries == 0 {
		c.Indexing.MaxRetries = defaults.Indexing.MaxRetries
		added = append(added, "indexing.max_retries")
	}
	if c.Indexing.FileTimeout == "" {
		c.Indexing.FileTimeout = defaults.Indexing.FileTimeout
		added = append(added, "indexing.file_timeout")
	}
	if c.Indexing.WatchDebounce == "" {
		c.Indexing.WatchDebounce = defaults.Indexing.WatchDebounce
		added = append(added, "indexing.watch_debounce")
	}
	if c.Resources.MaxConcurrentOperations == 0 {
		c.Resources.MaxConcurrentOperations = defaults.Resources.MaxConcurrentOperations
		added = append(added, "resources.max_concurrent_operations")
	}
	if c.Resources.MaxQueueSize == 0 {
		c.Resources.MaxQueueSize = defaults.Resources.MaxQueueSize
		added = append(added, "resources.max_queue_size")
	}
	if c.Resources.MemoryLimit == "" {
		c.Resources.MemoryLimit = defaults.Resources.MemoryLimit
		added = append(added, "resources.memory_limit")
	}
	if c.Resources.MaxConsecutiveErrors == 0 {
		c.Resources.MaxConsecutiveErrors = defaults.Resources.MaxConsecutiveErrors
		added = append(added, "resources.max_consecutive_errors")
	}
	if c.Server.Transport == "" {
		c.Server.Transport = defaults.Server.Transport
		added = append(added, "server.transport")
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaults.Server.Port
		added = append(added, "server.port")
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = defaults.Server.LogLevel
		added = append(added, "server.log_level")
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
		added = append(added, "ui.theme")
	}

	return added
}
