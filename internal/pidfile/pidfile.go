// Package pidfile records the daemon's pid together with its start time so a
// later run can tell a live daemon from a stale file whose pid was reused.
package pidfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type meta struct {
	StartUnix int64 `json:"start_unix"`
}

// Write stores pid on the first line and its start time as JSON on the second.
func Write(path string, pid int) error {
	var b strings.Builder
	b.WriteString(strconv.Itoa(pid))
	b.WriteByte('\n')
	if start := StartUnix(pid); start > 0 {
		mb, _ := json.Marshal(meta{StartUnix: start})
		b.Write(mb)
		b.WriteByte('\n')
	}
	// #nosec G306
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// Read returns the pid and recorded start time (zero when absent).
func Read(path string) (pid int, start int64, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	pid, err = strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if len(lines) >= 2 {
		var m meta
		if json.Unmarshal([]byte(strings.TrimSpace(lines[1])), &m) == nil {
			start = m.StartUnix
		}
	}
	return pid, start, nil
}

// Alive reports the pid in path and whether that process still runs. A
// missing file is not an error. A pid whose start time differs from the
// recorded one belongs to another process and counts as not alive.
func Alive(path string) (int, bool, error) {
	pid, recorded, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if recorded > 0 {
		if cur := StartUnix(pid); cur > 0 && cur != recorded {
			return pid, false, nil
		}
	}
	return pid, pidAlive(pid), nil
}

// Remove deletes path, ignoring a file that is already gone.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
