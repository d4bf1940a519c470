// Package jobsource turns a job description reference (file, stdin or URL) into plain text.
package jobsource

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Stdin is the file argument that reads the job description from standard input.
const Stdin = "-"

// Error represents a failure to obtain job description text.
type Error struct {
	Source  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("job source %s: %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("job source %s: %s", e.Source, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// FromFile reads a job description from path, or from stdin when path is "-".
// The text is returned as-is; blank text is left for the engine to reject.
func FromFile(path string, stdin io.Reader) (string, error) {
	if path == "" {
		return "", &Error{Source: "file", Message: "path is empty"}
	}

	if path == Stdin {
		if stdin == nil {
			stdin = os.Stdin
		}
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", &Error{Source: "stdin", Message: "failed to read", Cause: err}
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &Error{Source: path, Message: "failed to read file", Cause: err}
	}
	return string(data), nil
}

// IsURL reports whether ref looks like an http(s) URL rather than a file path.
func IsURL(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
