// Command zimage generates images with Z-Image Turbo from the command line or
// a local web page.
package main

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"zimage_backend/core"
	"zimage_backend/shutdown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(args []string, out, errOut io.Writer) int {
	a := newApp(out, errOut)
	// Missing .env is normal; the logger reports it once it exists.
	a.envErr = godotenv.Load()
	a.proxies = core.ApplyProxyEnv()
	defer a.close()

	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	err := cmd.Execute()
	if err == nil {
		return core.ExitCodeSuccess
	}

	code := core.ExitCodeError
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
		err = ee.err
	}
	reportExit(errOut, code, err)
	return code
}

// reportExit prints why the command stopped. A cancellation caused by the
// signal itself is not reported as an error.
func reportExit(w io.Writer, code int, err error) {
	if core.IsSignalExit(code) {
		printf(w, color.FgYellow, "Stopped: %s\n", core.ExitCodeName(code))
		if errors.Is(err, context.Canceled) || errors.Is(err, shutdown.ErrTrackerClosed) {
			return
		}
	}
	if err != nil {
		printf(w, color.FgRed, "Error: %v\n", err)
	}
}

// exitError carries a non-default exit code. A nil err exits silently.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return core.ExitCodeName(e.code)
}

func (e *exitError) Unwrap() error { return e.err }

// signalExit wraps err with the exit code of the signal that interrupted the
// command, if any.
func signalExit(sig os.Signal, err error) error {
	if sig == nil {
		return err
	}
	return &exitError{code: core.ExitCodeForSignal(sig), err: err}
}

func printf(w io.Writer, attr color.Attribute, format string, args ...any) {
	color.New(attr).Fprintf(w, format, args...)
}
