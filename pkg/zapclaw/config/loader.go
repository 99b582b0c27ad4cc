package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${NAME}, ${NAME:-fallback}, ${NAME:?message} and
// bare upper-case $NAME references.
//
// Groups: 1=name, 2=modifier ("-" or "?"), 3=modifier value, 4=bare name.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads the configuration. With an empty path the standard locations
// are searched; when no file exists the config is built from defaults and
// the environment alone.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	if path == "" {
		path = FindConfigFile()
	}

	var cfg *Config
	if path == "" {
		cfg = DefaultConfig()
	} else {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := applyLegacyEnv(cfg); err != nil {
		return nil, err
	}
	resolveSecrets(cfg)
	cfg.CleanGroups()
	return cfg, nil
}

// LoadFromFile reads and parses a YAML configuration file, expanding
// environment references and resolving relative paths against the file's
// directory.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)
	return cfg, nil
}

// ParseConfig parses YAML bytes on top of DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions. A key that equals
// the environment value is written as a reference instead.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.OpenAI.APIKey = sanitizeSecret(cfg.OpenAI.APIKey)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches the standard locations and returns the first hit.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"zapclaw.yaml",
		"zapclaw.yml",
		"configs/config.yaml",
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "zapclaw", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns when the API key is hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if looksLikeRealKey(cfg.OpenAI.APIKey) && os.Getenv("OPENAI_API_KEY") != cfg.OpenAI.APIKey {
		logger.Warn("API key appears to be hardcoded in config",
			"hint", "use 'api_key: ${OPENAI_API_KEY}' or 'zapclaw config set-key'")
	}
}

// IsEnvReference reports whether s is a $NAME or ${NAME} placeholder.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${") || strings.HasPrefix(s, "$")
}


// loadEnvFiles loads .env files. Existing variables are not overwritten.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// legacyEnv holds the flat environment variables of env-only deployments.
type legacyEnv struct {
	MediaDir   string   `env:"PATH_MP3"`
	SessionDir string   `env:"PATH_SESSION"`
	Groups     []string `env:"GROUPS" envSeparator:","`
	Operator   string   `env:"USER_PHONE"`
	Model      string   `env:"MODEL"`
	Prompt     string   `env:"PROMPT"`
}

// applyLegacyEnv maps the legacy environment variables onto the config.
// They win over file values.
func applyLegacyEnv(cfg *Config) error {
	var le legacyEnv
	if err := env.Parse(&le); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}

	if le.MediaDir != "" {
		cfg.Media.Dir = le.MediaDir
	}
	if le.SessionDir != "" {
		cfg.WhatsApp.SessionDir = le.SessionDir
	}
	if len(le.Groups) > 0 {
		cfg.Groups = le.Groups
	}
	if le.Operator != "" {
		cfg.Operator = le.Operator
	}
	if le.Model != "" {
		cfg.OpenAI.Model = le.Model
	}
	if le.Prompt != "" {
		cfg.Prompt = le.Prompt
	}
	return nil
}

// resolveSecrets fills the API key from the environment when the config
// value is empty or an unresolved reference.
func resolveSecrets(cfg *Config) {
	if cfg.OpenAI.APIKey != "" && !IsEnvReference(cfg.OpenAI.APIKey) {
		return
	}
	if key := os.Getenv("ZAPCLAW_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
}

// expandEnvVars replaces variable references with environment values.
// ${VAR} and $VAR stay as-is when unset; ${VAR:-d} falls back to d;
// ${VAR:?msg} fails with msg.
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if val, ok := os.LookupEnv(bare); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if firstErr == nil {
				if value == "" {
					value = "required environment variable not set"
				}
				firstErr = fmt.Errorf("config error: %s - %s", name, value)
			}
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// resolveRelativePaths makes relative paths relative to the config file.
func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.Media.Dir = resolvePathFromConfig(cfg.Media.Dir, dir)
	cfg.WhatsApp.SessionDir = resolvePathFromConfig(cfg.WhatsApp.SessionDir, dir)
	cfg.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.WhatsApp.DatabasePath, dir)
}

// resolvePathFromConfig expands ~ and joins relative paths to configDir.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

func sanitizeSecret(value string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, name := range []string{"ZAPCLAW_API_KEY", "OPENAI_API_KEY"} {
		if os.Getenv(name) == value {
			return "${" + name + "}"
		}
	}
	return value
}

func looksLikeRealKey(s string) bool {
	if s == "" || IsEnvReference(s) {
		return false
	}
	return strings.HasPrefix(s, "sk-") || len(s) > 20
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", fmt.Sprintf("chmod 600 %s", path))
	}
}
