// Package clipboard reads and writes the Wayland clipboard through the
// wl-clipboard tools.
package clipboard

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	apperrors "github.com/azzuriel/clipman/internal/errors"
	"github.com/azzuriel/clipman/internal/logging"
)

// ImageMIME is the image type requested from the clipboard.
const ImageMIME = "image/png"

// Reader fetches the current clipboard content. An empty result with a nil
// error means the clipboard holds nothing of that kind.
type Reader interface {
	ReadText(ctx context.Context) ([]byte, error)
	ReadImage(ctx context.Context) ([]byte, error)
}

// Writer replaces the clipboard content.
type Writer interface {
	WriteText(ctx context.Context, text string) error
	WriteImage(ctx context.Context, data []byte, mimeType string) error
}

type ReadWriter interface {
	Reader
	Writer
}

// Wayland talks to wl-paste and wl-copy.
type Wayland struct {
	PasteCmd string
	CopyCmd  string
	Timeout  time.Duration
}

// NewWayland returns a Wayland clipboard whose every command is bounded by
// timeout.
func NewWayland(timeout time.Duration) *Wayland {
	return &Wayland{
		PasteCmd: "wl-paste",
		CopyCmd:  "wl-copy",
		Timeout:  timeout,
	}
}

// ReadText runs `wl-paste --no-newline`.
func (w *Wayland) ReadText(ctx context.Context) ([]byte, error) {
	return w.read(ctx, "--no-newline")
}

// ReadImage runs `wl-paste --type image/png`.
func (w *Wayland) ReadImage(ctx context.Context) ([]byte, error) {
	return w.read(ctx, "--type", ImageMIME)
}

func (w *Wayland) read(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(w.PasteCmd, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := w.run(ctx, cmd)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// wl-paste exits non-zero when nothing of the requested type is offered
		logging.Debug("Clipboard read returned no content", map[string]interface{}{
			"args":   strings.Join(args, " "),
			"status": exitErr.ExitCode(),
			"stderr": strings.TrimSpace(stderr.String()),
		})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// WriteText runs `wl-copy --` with text on stdin.
func (w *Wayland) WriteText(ctx context.Context, text string) error {
	return w.write(ctx, []byte(text), "--")
}

// WriteImage runs `wl-copy --type <mime>` with data on stdin.
func (w *Wayland) WriteImage(ctx context.Context, data []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = ImageMIME
	}
	return w.write(ctx, data, "--type", mimeType)
}

func (w *Wayland) write(ctx context.Context, data []byte, args ...string) error {
	// wl-copy forks a server that keeps serving the selection, so its
	// output is not captured: an open pipe would block Wait until the
	// selection is replaced.
	cmd := exec.Command(w.CopyCmd, args...)
	cmd.Stdin = bytes.NewReader(data)

	if err := w.run(ctx, cmd); err != nil {
		if apperrors.Is(err, apperrors.ErrTimeout) || apperrors.Is(err, apperrors.ErrClipboard) {
			return err
		}
		return apperrors.Wrap(apperrors.ErrClipboard, "failed to write clipboard", err)
	}
	return nil
}

// run starts cmd in its own process group and waits for it. When ctx ends
// or the timeout expires, the whole group is killed and the child reaped so
// neither it nor its helpers linger.
func (w *Wayland) run(ctx context.Context, cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = time.Second

	if err := cmd.Start(); err != nil {
		return apperrors.Wrap(apperrors.ErrClipboard, "failed to start "+cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		killGroup(cmd)
		<-done
		return apperrors.Newf(apperrors.ErrTimeout, "%s timed out after %s", cmd.Args[0], timeout)
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return ctx.Err()
	}
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// negative pid addresses the process group
	if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		logging.Warn("Failed to kill clipboard process group", map[string]interface{}{
			"pid":   cmd.Process.Pid,
			"error": err.Error(),
		})
	}
}
