package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/BegaDeveloper/kindops/internal/runtimeconfig"
)

const serviceLabel = "dev.kindops.kindopsd"

func installService() error {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchdService()
	case "linux":
		return installSystemdUserService()
	default:
		return fmt.Errorf("install-service is not supported on %s", runtime.GOOS)
	}
}

// serviceEnv carries the effective config into the service definition so the
// service sees the same binaries and address as the installing shell.
func serviceEnv() map[string]string {
	values := map[string]string{}
	config, configErr := runtimeconfig.Load("")
	if configErr != nil {
		return values
	}
	values["KINDOPS_ADDR"] = config.Addr
	values["KINDOPS_KIND_BINARY"] = resolveBinaryPath(config.KindBinary)
	values["KINDOPS_KUBECTL_BINARY"] = resolveBinaryPath(config.KubectlBinary)
	values["KINDOPS_AUDIT_DB"] = config.AuditDB
	values["KINDOPS_LOG_FORMAT"] = config.LogFormat
	values["KINDOPS_LOG_LEVEL"] = config.LogLevel
	if path := os.Getenv("PATH"); path != "" {
		values["PATH"] = path
	}
	return values
}

// Services start with a minimal PATH, so bare binary names are resolved now.
func resolveBinaryPath(binary string) string {
	if strings.ContainsRune(binary, filepath.Separator) {
		return binary
	}
	if resolved, err := exec.LookPath(binary); err == nil {
		return resolved
	}
	return binary
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key, value := range values {
		if strings.TrimSpace(value) == "" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func launchdPlist(executable string, logDir string, env map[string]string) string {
	envEntries := make([]string, 0, len(env))
	for _, key := range sortedKeys(env) {
		envEntries = append(envEntries, "<key>"+key+"</key><string>"+xmlEscape(env[key])+"</string>")
	}
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>` + serviceLabel + `</string>
  <key>ProgramArguments</key>
  <array><string>` + xmlEscape(executable) + `</string></array>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><true/>
  <key>StandardOutPath</key><string>` + xmlEscape(filepath.Join(logDir, "kindopsd.log")) + `</string>
  <key>StandardErrorPath</key><string>` + xmlEscape(filepath.Join(logDir, "kindopsd.err.log")) + `</string>
  <key>EnvironmentVariables</key><dict>` + strings.Join(envEntries, "") + `</dict>
</dict>
</plist>
`
}

func installLaunchdService() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	launchAgentsDir := filepath.Join(homeDir, "Library", "LaunchAgents")
	if err := os.MkdirAll(launchAgentsDir, 0o755); err != nil {
		return err
	}
	plistPath := filepath.Join(launchAgentsDir, serviceLabel+".plist")
	logDir, err := runtimeconfig.DefaultConfigDir()
	if err != nil {
		return err
	}
	_ = os.MkdirAll(logDir, 0o700)
	if err := os.WriteFile(plistPath, []byte(launchdPlist(executable, logDir, serviceEnv())), 0o644); err != nil {
		return err
	}
	_ = exec.Command("launchctl", "unload", plistPath).Run()
	if output, runErr := exec.Command("launchctl", "load", plistPath).CombinedOutput(); runErr != nil {
		return fmt.Errorf("launchctl load failed: %v (%s)", runErr, strings.TrimSpace(string(output)))
	}
	return nil
}

func systemdUnit(executable string, env map[string]string) string {
	envLines := make([]string, 0, len(env))
	for _, key := range sortedKeys(env) {
		envLines = append(envLines, `Environment="`+key+"="+systemdEscape(env[key])+`"`)
	}
	return `[Unit]
Description=kindops cluster orchestration daemon
After=network.target docker.service

[Service]
Type=simple
ExecStart=` + executable + `
Restart=always
RestartSec=2
` + strings.Join(envLines, "\n") + `

[Install]
WantedBy=default.target
`
}

func installSystemdUserService() error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	unitDir := filepath.Join(homeDir, ".config", "systemd", "user")
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return err
	}
	unitPath := filepath.Join(unitDir, "kindopsd.service")
	if err := os.WriteFile(unitPath, []byte(systemdUnit(executable, serviceEnv())), 0o644); err != nil {
		return err
	}
	if output, runErr := exec.Command("systemctl", "--user", "daemon-reload").CombinedOutput(); runErr != nil {
		return fmt.Errorf("systemctl daemon-reload failed: %v (%s)", runErr, strings.TrimSpace(string(output)))
	}
	if output, runErr := exec.Command("systemctl", "--user", "enable", "--now", "kindopsd.service").CombinedOutput(); runErr != nil {
		return fmt.Errorf("systemctl enable/start failed: %v (%s)", runErr, strings.TrimSpace(string(output)))
	}
	return nil
}

func xmlEscape(value string) string {
	escaped := strings.ReplaceAll(value, "&", "&amp;")
	escaped = strings.ReplaceAll(escaped, "<", "&lt;")
	escaped = strings.ReplaceAll(escaped, ">", "&gt;")
	return escaped
}

func systemdEscape(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	return strings.ReplaceAll(escaped, `"`, `\"`)
}
