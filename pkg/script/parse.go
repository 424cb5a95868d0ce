package script

import (
	"fmt"
	"regexp"
	"strings"
)

// annotationMarker is the decorator users attach to feature functions.
const annotationMarker = "@myFeature"

var (
	annotationRe = regexp.MustCompile(`^\s*@myFeature\s*\(\s*requires\s*=\s*(\[[^\]]*\])\s*,\s*provides\s*=\s*(\[[^\]]*\])\s*\)\s*$`)
	defRe        = regexp.MustCompile(`^\s*def\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(.*\)\s*:\s*$`)
)

// Diagnostic records an annotation that was found but skipped, with the
// 1-based line number of the annotation and the reason.
type Diagnostic struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Parse scans script source for feature contracts. A contract is an
// annotation line
//
//	@myFeature(requires=['a', 'b'], provides=['c'])
//
// immediately followed by a function definition line
//
//	def name(args):
//
// Malformed or dangling annotations are skipped and reported as
// diagnostics; parsing continues. The source is never executed, and a
// script with no contracts parses to an empty list.
func Parse(src string) (Contracts, []Diagnostic) {
	lines := strings.Split(src, "\n")

	var contracts Contracts
	var diags []Diagnostic
	for i, line := range lines {
		if !strings.Contains(line, annotationMarker) {
			continue
		}

		m := annotationRe.FindStringSubmatch(line)
		if m == nil {
			diags = append(diags, Diagnostic{Line: i + 1, Reason: "malformed annotation"})
			continue
		}
		requires, err := parseStringList(m[1])
		if err != nil {
			diags = append(diags, Diagnostic{Line: i + 1, Reason: fmt.Sprintf("requires list: %v", err)})
			continue
		}
		provides, err := parseStringList(m[2])
		if err != nil {
			diags = append(diags, Diagnostic{Line: i + 1, Reason: fmt.Sprintf("provides list: %v", err)})
			continue
		}

		if i+1 >= len(lines) {
			diags = append(diags, Diagnostic{Line: i + 1, Reason: "annotation at end of script, no function follows"})
			continue
		}
		dm := defRe.FindStringSubmatch(lines[i+1])
		if dm == nil {
			diags = append(diags, Diagnostic{Line: i + 1, Reason: "annotation not immediately followed by a function definition"})
			continue
		}

		contracts = append(contracts, Contract{
			Name:     dm[1],
			Requires: requires,
			Provides: provides,
		})
	}
	return contracts, diags
}

// parseStringList reads a Python-style list literal of single- or
// double-quoted strings, e.g. ['a', "b"]. The empty list is valid.
func parseStringList(lit string) ([]string, error) {
	lit = strings.TrimSpace(lit)
	if len(lit) < 2 || lit[0] != '[' || lit[len(lit)-1] != ']' {
		return nil, fmt.Errorf("not a list literal: %s", lit)
	}
	rest := strings.TrimSpace(lit[1 : len(lit)-1])

	var out []string
	for rest != "" {
		quote := rest[0]
		if quote != '\'' && quote != '"' {
			return nil, fmt.Errorf("expected quoted string at %q", rest)
		}
		end := strings.IndexByte(rest[1:], quote)
		if end < 0 {
			return nil, fmt.Errorf("unterminated string at %q", rest)
		}
		out = append(out, rest[1:1+end])
		rest = strings.TrimSpace(rest[2+end:])

		if rest == "" {
			break
		}
		if rest[0] != ',' {
			return nil, fmt.Errorf("expected comma at %q", rest)
		}
		rest = strings.TrimSpace(rest[1:])
		if rest == "" {
			return nil, fmt.Errorf("trailing comma in list literal")
		}
	}
	return out, nil
}
