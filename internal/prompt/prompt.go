// Package prompt provides the interactive choices the engine needs: picking
// one of several projects or launch profiles, answering a reattach question
// and showing notifications.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Prompter offers a single choice over items and shows messages. Pick
// returns ok=false when nothing was chosen or ctx ended first.
type Prompter interface {
	Pick(ctx context.Context, title string, items []string) (int, bool)
	Notify(level Level, msg string)
}

// Console prompts on a line-based terminal.
type Console struct {
	mu    sync.Mutex
	lines chan string
	out   io.Writer
}

// NewConsole reads answers from in, one per line, and writes prompts to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{lines: make(chan string), out: out}
	go func() {
		s := bufio.NewScanner(in)
		for s.Scan() {
			c.lines <- s.Text()
		}
		close(c.lines)
	}()
	return c
}

func (c *Console) Pick(ctx context.Context, title string, items []string) (int, bool) {
	if len(items) == 0 {
		return -1, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintln(c.out, title)
	for i, it := range items {
		_, _ = fmt.Fprintf(c.out, "  %d) %s\n", i+1, it)
	}
	for {
		_, _ = fmt.Fprintf(c.out, "Select [1-%d], empty to cancel: ", len(items))
		var line string
		select {
		case <-ctx.Done():
			_, _ = fmt.Fprintln(c.out)
			return -1, false
		case l, ok := <-c.lines:
			if !ok {
				return -1, false
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			return -1, false
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(items) {
			return n - 1, true
		}
		_, _ = fmt.Fprintf(c.out, "invalid choice %q\n", line)
	}
}

func (c *Console) Notify(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, "[%s] %s\n", level, msg)
}

// Policy answers every Pick with a fixed index and logs notifications. It is
// used when no terminal is attached. A negative Choice declines.
type Policy struct {
	Choice int
	Log    *slog.Logger
}

func (p Policy) Pick(_ context.Context, title string, items []string) (int, bool) {
	if p.Choice < 0 || p.Choice >= len(items) {
		p.logger().Debug("prompt declined", "title", title, "items", len(items))
		return -1, false
	}
	p.logger().Info("prompt answered", "title", title, "choice", items[p.Choice])
	return p.Choice, true
}

func (p Policy) Notify(level Level, msg string) {
	l := p.logger()
	switch level {
	case LevelError:
		l.Error(msg)
	case LevelWarn:
		l.Warn(msg)
	default:
		l.Info(msg)
	}
}

func (p Policy) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}
