package commons

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// WritePidfile records the current process ID at path. An empty path is a
// no-op so callers can pass the config value straight through.
func WritePidfile(path string) error {
	if path == "" {
		return nil
	}

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0644); err != nil {
		return fmt.Errorf("commons/WritePidfile: %w", err)
	}

	Log.Info("wrote pidfile", zap.String("path", path), zap.String("pid", pid))
	return nil
}

// RemovePidfile deletes the pidfile if it still holds our own PID. A pidfile
// overwritten by a newer instance is left alone.
func RemovePidfile(path string) {
	if path == "" {
		return
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return
	}

	if strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
		return
	}

	if err := os.Remove(path); err != nil {
		Log.Error("removing pidfile", zap.String("path", path), zap.Error(err))
	}
}
