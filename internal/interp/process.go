//go:build !windows

package interp

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"replbridge/internal/logging"
)

var procLog = logging.ForComponent(logging.CompProc)

// Config describes how to launch the interpreter subprocess.
type Config struct {
	// Command is the interpreter executable (e.g. "idl").
	Command string

	// Args are passed verbatim to the interpreter.
	Args []string

	// Dir is the working directory the interpreter starts in.
	Dir string

	// Env entries are appended to the parent environment.
	Env []string

	// NoPTY runs the interpreter on plain pipes instead of a PTY.
	// Most REPLs only emit their prompt on a tty, so the default is PTY.
	NoPTY bool

	// Cols/Rows set the PTY size. Wide PTYs reduce (but do not eliminate)
	// mid-message line wrapping. Defaults: 200x50.
	Cols int
	Rows int
}

// Process is a running interpreter subprocess with merged stdout/stderr.
// Output chunks are delivered to the onChunk callback from a single reader
// goroutine, in arrival order, with no alignment to line boundaries.
type Process struct {
	cmd   *exec.Cmd
	ptmx  *os.File
	stdin io.Writer

	mu      sync.RWMutex
	alive   bool
	exitErr error

	done      chan struct{}
	closeOnce sync.Once
}

// Start launches the interpreter and begins delivering output chunks.
// onChunk must not block for long; it is called from the reader goroutine.
func Start(cfg Config, onChunk func([]byte)) (*Process, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("interp: empty command")
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 200
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 50
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	p := &Process{
		cmd:   cmd,
		alive: true,
		done:  make(chan struct{}),
	}

	var reader io.Reader
	if cfg.NoPTY {
		// Pipe mode: merge stdout and stderr onto one pipe so message
		// ordering matches what a terminal would show.
		pr, pw, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("interp: pipe: %w", err)
		}
		stdin, err := cmd.StdinPipe()
		if err != nil {
			pr.Close()
			pw.Close()
			return nil, fmt.Errorf("interp: stdin pipe: %w", err)
		}
		cmd.Stdout = pw
		cmd.Stderr = pw
		cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
		if err := cmd.Start(); err != nil {
			pr.Close()
			pw.Close()
			return nil, fmt.Errorf("interp: start %s: %w", cfg.Command, err)
		}
		// Parent's write end must close so the reader sees EOF on exit.
		pw.Close()
		p.stdin = stdin
		reader = pr
	} else {
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
			Cols: uint16(cfg.Cols),
			Rows: uint16(cfg.Rows),
		})
		if err != nil {
			return nil, fmt.Errorf("interp: start pty %s: %w", cfg.Command, err)
		}
		p.ptmx = ptmx
		p.stdin = ptmx
		reader = ptmx
	}

	go p.readLoop(reader, onChunk)

	procLog.Info("interpreter_started",
		slog.String("command", cfg.Command),
		slog.Int("pid", cmd.Process.Pid),
		slog.Bool("pty", !cfg.NoPTY))
	return p, nil
}

// readLoop delivers output chunks until EOF, then reaps the process.
func (p *Process) readLoop(r io.Reader, onChunk func([]byte)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 && onChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onChunk(chunk)
		}
		if err != nil {
			// PTY reads fail with EIO when the child exits; treat like EOF.
			break
		}
	}

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	p.alive = false
	p.exitErr = waitErr
	p.mu.Unlock()

	if p.ptmx != nil {
		p.ptmx.Close()
	}
	close(p.done)

	procLog.Info("interpreter_exited", slog.String("command", p.cmd.Path),
		slog.String("error", errString(waitErr)))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// WriteLine sends one command line to the interpreter's stdin, appending
// the newline terminator.
func (p *Process) WriteLine(line string) error {
	p.mu.RLock()
	alive := p.alive
	p.mu.RUnlock()
	if !alive {
		return fmt.Errorf("interp: process not running")
	}
	_, err := io.WriteString(p.stdin, line+"\n")
	if err != nil {
		return fmt.Errorf("interp: write: %w", err)
	}
	return nil
}

// Write forwards raw bytes to the interpreter (attach mode passthrough).
func (p *Process) Write(b []byte) (int, error) {
	return p.stdin.Write(b)
}

// Resize changes the PTY window size. No-op in pipe mode.
func (p *Process) Resize(cols, rows int) error {
	if p.ptmx == nil {
		return nil
	}
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// Alive reports whether the subprocess is still running.
func (p *Process) Alive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.alive
}

// Pid returns the subprocess pid.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// ExitErr returns the Wait error after the process has exited.
func (p *Process) ExitErr() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done returns a channel closed when the subprocess has exited and been
// reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Interrupt sends SIGINT to the interpreter (the textual equivalent of
// pressing Ctrl+C at its prompt).
func (p *Process) Interrupt() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("interp: no process")
	}
	return p.cmd.Process.Signal(os.Interrupt)
}

// Kill force-terminates the subprocess group.
func (p *Process) Kill() {
	p.closeOnce.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		pid := p.cmd.Process.Pid
		if pgid, err := syscall.Getpgid(pid); err == nil && pgid == pid {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		} else {
			_ = p.cmd.Process.Kill()
		}
	})
}
