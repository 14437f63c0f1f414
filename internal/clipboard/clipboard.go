// Package clipboard copies text to the system clipboard so stop locations
// and output snippets can be pasted into an editor. Native tools are tried
// first, then the OSC 52 escape sequence for remote/SSH terminals.
package clipboard

import (
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Copy writes text to the clipboard and reports the method used
// ("pbcopy", "xclip", "osc52", ...).
func Copy(text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("no content to copy")
	}
	if method, err := copyNative(text); err == nil {
		return method, nil
	}
	if err := copyOSC52(text); err != nil {
		return "", fmt.Errorf("no native clipboard tool and OSC 52 failed: %w", err)
	}
	return "osc52", nil
}

func copyNative(text string) (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "pbcopy", pipe("pbcopy", nil, text)
	case "linux":
		if isWSL() {
			return "clip.exe", pipe("clip.exe", nil, text)
		}
		// Wayland takes priority over X11.
		if os.Getenv("WAYLAND_DISPLAY") != "" {
			if path, err := exec.LookPath("wl-copy"); err == nil {
				return "wl-copy", pipe(path, nil, text)
			}
		}
		if path, err := exec.LookPath("xclip"); err == nil {
			return "xclip", pipe(path, []string{"-selection", "clipboard"}, text)
		}
		if path, err := exec.LookPath("xsel"); err == nil {
			return "xsel", pipe(path, []string{"--clipboard", "--input"}, text)
		}
		return "", fmt.Errorf("no clipboard command found")
	default:
		return "", fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

func isWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return true
	}
	version, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(version)), "microsoft")
}

func pipe(name string, args []string, text string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

// copyOSC52 writes the OSC 52 sequence straight to the controlling
// terminal, wrapped in a DCS passthrough when running under tmux.
func copyOSC52(text string) error {
	seq := osc52Sequence(base64.StdEncoding.EncodeToString([]byte(text)), os.Getenv("TMUX") != "")

	tty, err := os.OpenFile("/dev/tty", os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open /dev/tty: %w", err)
	}
	defer tty.Close()

	_, err = tty.WriteString(seq)
	return err
}

func osc52Sequence(base64Content string, inTmux bool) string {
	osc := "\x1b]52;c;" + base64Content + "\x07"
	if inTmux {
		return "\x1bPtmux;\x1b" + osc + "\x1b\\"
	}
	return osc
}
