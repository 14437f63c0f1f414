//go:build !windows

package interp

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// ctrlQ is the detach byte for attach mode.
const ctrlQ = 0x11

// Forward connects the controlling terminal to the interpreter: raw-mode
// stdin is forwarded to the subprocess and output chunks (already flowing
// through the bridge) are echoed to stdout. Ctrl+Q detaches and returns.
// The bridge keeps scraping while attached because output delivery is a
// side channel, not a read competition.
func Forward(ctx context.Context, proc *Process, output <-chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return err
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	// Track window size changes onto the interpreter PTY.
	sigwinch := make(chan os.Signal, 1)
	signal.Notify(sigwinch, syscall.SIGWINCH)
	defer signal.Stop(sigwinch)
	resize := func() {
		if ws, err := pty.GetsizeFull(os.Stdin); err == nil {
			_ = proc.Resize(int(ws.Cols), int(ws.Rows))
		}
	}
	resize()

	detach := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				if err != io.EOF {
					cancel()
				}
				return
			}
			if n == 1 && buf[0] == ctrlQ {
				close(detach)
				return
			}
			if _, err := proc.Write(buf[:n]); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case chunk := <-output:
			_, _ = os.Stdout.Write(chunk)
		case <-sigwinch:
			resize()
		case <-detach:
			return nil
		case <-proc.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
