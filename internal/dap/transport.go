package dap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
)

var ErrNoAdapter = errors.New("no debug adapter configured")

// DialFunc opens a connection to a fresh debug adapter.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Dialer picks how to reach the adapter: a TCP address when addr is set,
// otherwise the adapter program over its stdio. It is nil when neither is
// configured.
func Dialer(adapter string, args []string, addr string) DialFunc {
	switch {
	case addr != "":
		return func(ctx context.Context) (io.ReadWriteCloser, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("dial adapter %s: %w", addr, err)
			}
			return conn, nil
		}
	case adapter != "":
		return func(context.Context) (io.ReadWriteCloser, error) {
			return startAdapter(adapter, args)
		}
	default:
		return nil
	}
}

// stdioConn speaks to an adapter process through its stdin and stdout.
type stdioConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	once   sync.Once
	err    error
}

func startAdapter(program string, args []string) (*stdioConn, error) {
	cmd := exec.Command(program, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("adapter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("adapter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("start adapter %s: %w", program, err)
	}
	return &stdioConn{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (c *stdioConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *stdioConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// Close kills the adapter and reaps it.
func (c *stdioConn) Close() error {
	c.once.Do(func() {
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		err := c.cmd.Wait()
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			c.err = err
		}
	})
	return c.err
}
