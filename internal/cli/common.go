package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"

	"karavan/internal/client"
)

// FormatError formats an error message for CLI output
func FormatError(err error) string {
	return fmt.Sprintf("Error: %v", err)
}

// FormatSuccess formats a success message for CLI output
func FormatSuccess(msg string) string {
	return fmt.Sprintf("✓ %s", msg)
}

// FormatWarning formats a warning message for CLI output
func FormatWarning(msg string) string {
	return fmt.Sprintf("⚠ %s", msg)
}

// ExplainError adds a hint to errors a user can act on.
func ExplainError(err error, server string) error {
	var apiErr *client.APIError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, client.ErrNotFound):
		return fmt.Errorf("%w (is a dev-mode container running for this project?)", err)
	case errors.As(err, &apiErr):
		return err
	default:
		return fmt.Errorf("%w (is the server at %s running? start it with: karavan serve)", err, server)
	}
}

// Progress shows a spinner on stderr while a long operation runs.
type Progress struct {
	s *spinner.Spinner
}

// StartProgress starts a spinner with msg. When quiet is true the returned
// Progress does nothing.
func StartProgress(msg string, quiet bool) *Progress {
	if quiet {
		return &Progress{}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + msg
	s.Start()
	return &Progress{s: s}
}

// Update replaces the spinner text.
func (p *Progress) Update(msg string) {
	if p.s != nil {
		p.s.Suffix = " " + msg
	}
}

// Succeed stops the spinner and prints msg in green.
func (p *Progress) Succeed(msg string) {
	p.finish(text.FgGreen.Sprint(FormatSuccess(msg)))
}

// Fail stops the spinner and prints msg in red.
func (p *Progress) Fail(msg string) {
	p.finish(text.FgRed.Sprint(FormatWarning(msg)))
}

func (p *Progress) finish(final string) {
	if p.s == nil {
		return
	}
	p.s.FinalMSG = final + "\n"
	p.s.Stop()
}

// PrintInfo writes msg to w unless quiet.
func PrintInfo(w io.Writer, quiet bool, format string, args ...interface{}) {
	if quiet {
		return
	}
	fmt.Fprintf(w, format+"\n", args...)
}
