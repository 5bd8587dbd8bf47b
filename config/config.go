package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Warn  LogLevel = "warn"
	Error LogLevel = "error"
)

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("WGO_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("WGO_DEBUG") == "true"
}

func GetDBFolderPath() string {
	if dbFolderPath := os.Getenv("WGO_DB_FOLDER"); dbFolderPath != "" {
		return dbFolderPath
	}
	return "/etc/wgo-ui"
}

func GetDBPath() string {
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

// GetWGConfigPath is where the rendered interface config is written for
// diagnostics and for wg-quick compatibility.
func GetWGConfigPath(iface string) string {
	if dir := os.Getenv("WGO_WG_CONFIG_FOLDER"); dir != "" {
		return fmt.Sprintf("%s/%s.conf", dir, iface)
	}
	return fmt.Sprintf("/etc/wireguard/%s.conf", iface)
}

// GetExternalIPFile caches the discovered external address between runs.
func GetExternalIPFile() string {
	if f := os.Getenv("WGO_EXTERNAL_IP_FILE"); f != "" {
		return f
	}
	return "/etc/external_ip.txt"
}

func GetObfuscatorBinary() string {
	if bin := os.Getenv("WGO_OBFUSCATOR_BIN"); bin != "" {
		return bin
	}
	return "wg-obfuscator"
}

func GetObfuscatorLogLines() int {
	if v := os.Getenv("WGO_OBFUSCATOR_LOG_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 1024
}

func GetObfuscatorMaxRestarts() int {
	if v := os.Getenv("WGO_OBFUSCATOR_MAX_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return 5
}
