package customizer

import (
	"regexp"
	"strings"
)

// Annotation is a LaTeX comment left in the customized document to explain a decision.
type Annotation struct {
	Line int    `json:"line"`
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// annotationPattern matches whole-line comments such as "% REMOVED: retail experience".
var annotationPattern = regexp.MustCompile(`^\s*%+\s*([A-Z][A-Z_-]*)\s*:\s*(.*?)\s*$`)

// ExtractAnnotations returns the tagged comments in document, in order.
// Line numbers are 1-based.
func ExtractAnnotations(document string) []Annotation {
	var annotations []Annotation
	for i, line := range strings.Split(document, "\n") {
		m := annotationPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		annotations = append(annotations, Annotation{
			Line: i + 1,
			Kind: m[1],
			Text: m[2],
		})
	}
	return annotations
}

// CountByKind tallies annotations per tag.
func CountByKind(annotations []Annotation) map[string]int {
	counts := make(map[string]int, len(annotations))
	for _, a := range annotations {
		counts[a.Kind]++
	}
	return counts
}
