package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/shortcast/pkg/domain"
)

// Runner executes external binaries with a timeout. Running processes are tracked so they can be
// killed on shutdown.
type Runner struct {
	guard     *PathGuard
	timeout   time.Duration
	waitDelay time.Duration

	mu      sync.Mutex
	running map[*exec.Cmd]struct{}
}

// DefaultTimeout bounds a single encoder run
const DefaultTimeout = 10 * time.Minute

// NewRunner makes a runner, zero timeout means DefaultTimeout
func NewRunner(guard *PathGuard, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Runner{guard: guard, timeout: timeout, waitDelay: 5 * time.Second, running: map[*exec.Cmd]struct{}{}}
}

// Guard returns the path guard used for file arguments
func (r *Runner) Guard() *PathGuard { return r.guard }

// Command starts a validated command for a binary
func (r *Runner) Command(bin string, allowed FlagSet) *Command {
	return &Command{bin: bin, allowed: allowed, guard: r.guard}
}

// Run executes the command and returns its stdout. On cancel the child gets an interrupt,
// then is killed after the wait delay.
func (r *Runner) Run(ctx context.Context, c *Command) ([]byte, error) {
	if c.bin == "" {
		return nil, domain.Fail(domain.CatDependencyMissing, fmt.Errorf("binary not located: %w", domain.ErrDependencyMissing))
	}
	args, err := c.Args()
	if err != nil {
		return nil, domain.Fail(domain.CatValidation, err)
	}
	name := filepath.Base(c.bin)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.bin, args...) //nolint:gosec // list-form args from whitelisted flags
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("[DEBUG] run %s %s", name, strings.Join(args, " "))
	st := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.Fail(domain.CatDependencyMissing, fmt.Errorf("%s: %w", name, domain.ErrDependencyMissing))
		}
		return nil, domain.Fail(domain.CatEncoder, fmt.Errorf("start %s: %w", name, err))
	}
	r.track(cmd, true)
	err = cmd.Wait()
	r.track(cmd, false)

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return nil, domain.Fail(domain.CatEncoder, fmt.Errorf("%s failed: %w: %s", name, err, tail(stderr.String(), 400)))
	}
	log.Printf("[DEBUG] %s completed in %v", name, time.Since(st).Round(time.Millisecond))
	return stdout.Bytes(), nil
}

// KillAll kills all running children, returns how many were signaled
func (r *Runner) KillAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for cmd := range r.running {
		if cmd.Process != nil && cmd.Process.Kill() == nil {
			n++
		}
	}
	if n > 0 {
		log.Printf("[WARN] killed %d external processes", n)
	}
	return n
}

// Running returns the number of running children
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

func (r *Runner) track(cmd *exec.Cmd, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if on {
		r.running[cmd] = struct{}{}
		return
	}
	delete(r.running, cmd)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
