package procdir

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var psLine = regexp.MustCompile(`^\s*([0-9]+)\s+([0-9]+)\s+(.+)$`)

// PSLister shells out to ps(1). It is the fallback for systems where gopsutil
// cannot read command lines (restricted /proc, some containers).
type PSLister struct {
	// Path overrides the ps binary; empty means "ps" from PATH.
	Path string
}

func (PSLister) Name() string { return "ps" }

func (l PSLister) List(ctx context.Context) ([]Record, error) {
	bin := l.Path
	if bin == "" {
		bin = "ps"
	}
	// #nosec G204
	out, err := exec.CommandContext(ctx, bin, "-axo", "pid=,ppid=,command=").Output()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", bin, err)
	}
	return ParsePS(string(out)), nil
}

// ParsePS parses "pid ppid command" lines. Lines that do not match are skipped.
func ParsePS(out string) []Record {
	var recs []Record
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		m := psLine.FindStringSubmatch(strings.TrimRight(sc.Text(), "\r"))
		if m == nil {
			continue
		}
		pid, err1 := strconv.Atoi(m[1])
		ppid, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		recs = append(recs, Record{PID: pid, PPID: ppid, CommandLine: strings.TrimSpace(m[3])})
	}
	return recs
}
