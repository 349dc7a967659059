package runtimeconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultAddr      = "127.0.0.1:8000"
	DefaultDaemonURL = "http://127.0.0.1:8000"
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

var DefaultCORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}

// FileConfig mirrors config.toml. Empty fields mean "not set".
type FileConfig struct {
	Addr          string   `toml:"addr,omitempty"`
	KindBinary    string   `toml:"kind_binary,omitempty"`
	KubectlBinary string   `toml:"kubectl_binary,omitempty"`
	AuditDB       string   `toml:"audit_db,omitempty"`
	TempDir       string   `toml:"temp_dir,omitempty"`
	CORSOrigins   []string `toml:"cors_origins,omitempty"`
	LogLevel      string   `toml:"log_level,omitempty"`
	LogFormat     string   `toml:"log_format,omitempty"`
	DaemonURL     string   `toml:"daemon_url,omitempty"`
}

// Config is the effective configuration after environment overrides and
// defaults have been applied.
type Config struct {
	Path          string
	Addr          string
	KindBinary    string
	KubectlBinary string
	AuditDB       string
	TempDir       string
	CORSOrigins   []string
	LogLevel      string
	LogFormat     string
	DaemonURL     string
}

func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory failed: %w", err)
	}
	return filepath.Join(homeDir, ".kindops"), nil
}

func DefaultConfigPath() (string, error) {
	if path := strings.TrimSpace(os.Getenv("KINDOPS_CONFIG")); path != "" {
		return path, nil
	}
	directory, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(directory, "config.toml"), nil
}

// LoadFile reads path as TOML. A missing file yields an empty FileConfig.
func LoadFile(path string) (FileConfig, error) {
	fileConfig := FileConfig{}
	if _, err := toml.DecodeFile(path, &fileConfig); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return fileConfig, nil
}

// Load resolves the effective configuration: environment first, then the
// file at path (or the default path), then built-in defaults.
func Load(path string) (Config, error) {
	configPath := strings.TrimSpace(path)
	if configPath == "" {
		resolvedPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		configPath = resolvedPath
	}
	fileConfig, err := LoadFile(configPath)
	if err != nil {
		return Config{}, err
	}

	config := Config{
		Path:          configPath,
		Addr:          ResolveString("KINDOPS_ADDR", fileConfig.Addr, DefaultAddr),
		KindBinary:    ResolveString("KINDOPS_KIND_BINARY", fileConfig.KindBinary, "kind"),
		KubectlBinary: ResolveString("KINDOPS_KUBECTL_BINARY", fileConfig.KubectlBinary, "kubectl"),
		AuditDB:       ResolveString("KINDOPS_AUDIT_DB", fileConfig.AuditDB, ""),
		TempDir:       ResolveString("KINDOPS_TEMP_DIR", fileConfig.TempDir, os.TempDir()),
		CORSOrigins:   ResolveList("KINDOPS_CORS_ORIGINS", fileConfig.CORSOrigins, DefaultCORSOrigins),
		LogLevel:      ResolveString("KINDOPS_LOG_LEVEL", fileConfig.LogLevel, DefaultLogLevel),
		LogFormat:     ResolveString("KINDOPS_LOG_FORMAT", fileConfig.LogFormat, DefaultLogFormat),
		DaemonURL:     ResolveString("KINDOPS_DAEMON_URL", fileConfig.DaemonURL, DefaultDaemonURL),
	}
	if config.AuditDB == "" {
		directory, dirError := DefaultConfigDir()
		if dirError != nil {
			config.AuditDB = ".kindops-audit.db"
		} else {
			config.AuditDB = filepath.Join(directory, "audit.db")
		}
	}
	return config, nil
}

func Save(path string, fileConfig FileConfig) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory failed: %w", err)
	}
	var buffer bytes.Buffer
	buffer.WriteString("# kindops runtime config\n")
	if err := toml.NewEncoder(&buffer).Encode(fileConfig); err != nil {
		return fmt.Errorf("encode config failed: %w", err)
	}
	if err := os.WriteFile(path, buffer.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config failed: %w", err)
	}
	return nil
}

func ResolveString(envKey string, fileValue string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(envKey)); value != "" {
		return value
	}
	if value := strings.TrimSpace(fileValue); value != "" {
		return value
	}
	return fallback
}

// ResolveList reads a comma separated environment value, then the file list.
func ResolveList(envKey string, fileValues []string, fallback []string) []string {
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		return splitList(strings.Split(raw, ","))
	}
	if values := splitList(fileValues); len(values) > 0 {
		return values
	}
	return append([]string(nil), fallback...)
}

func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
