package customizer

import "strings"

const fenceMarker = "```"

// StripCodeFence removes a single enclosing fenced code block from a model response.
//
// A response starting with the fence marker loses its first line (the opening marker,
// possibly tagged with a language). If the last remaining line, trimmed, is exactly the
// bare marker, it is removed too. Anything else is returned unchanged: leading prose,
// other fence styles and multiple blocks are not handled.
func StripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, fenceMarker) {
		return raw
	}

	lines := strings.Split(raw, "\n")[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == fenceMarker {
		lines = lines[:n-1]
	}
	return strings.Join(lines, "\n")
}
