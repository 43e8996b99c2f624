package gpu

import (
	"fmt"
	"regexp"
	"strings"
)

// stage is what the software backend understands of a GLSL ES 1.0 shader:
// its declarations and, for the vertex stage, the main() assignments.
type stage struct {
	attributes  []string
	uniforms    []string
	varyings    map[string]bool
	assignments map[string]string // lhs -> rhs identifier
}

var (
	lineComment  = regexp.MustCompile(`//[^\n]*`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	assignment   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([A-Za-z_][A-Za-z0-9_]*)$`)
	mainDecl     = regexp.MustCompile(`void\s+main\s*\(\s*(void)?\s*\)`)
)

func compileStage(kind, src string) (*stage, error) {
	src = blockComment.ReplaceAllString(src, " ")
	src = lineComment.ReplaceAllString(src, " ")

	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("%w: %s shader is empty", ErrCompile, kind)
	}
	if !mainDecl.MatchString(src) {
		return nil, fmt.Errorf("%w: %s shader has no main()", ErrCompile, kind)
	}
	if strings.Count(src, "{") != strings.Count(src, "}") {
		return nil, fmt.Errorf("%w: %s shader has unbalanced braces", ErrCompile, kind)
	}
	if strings.Count(src, "(") != strings.Count(src, ")") {
		return nil, fmt.Errorf("%w: %s shader has unbalanced parentheses", ErrCompile, kind)
	}

	st := &stage{
		varyings:    make(map[string]bool),
		assignments: make(map[string]string),
	}

	statements := strings.FieldsFunc(src, func(r rune) bool {
		return r == ';' || r == '{' || r == '}'
	})
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		fields := strings.Fields(stmt)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "attribute", "uniform", "varying":
			// qualifier [precision] type name
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: %s shader: malformed declaration %q", ErrCompile, kind, stmt)
			}
			name := fields[len(fields)-1]
			switch fields[0] {
			case "attribute":
				if kind != "vertex" {
					return nil, fmt.Errorf("%w: attribute %q in %s shader", ErrCompile, name, kind)
				}
				st.attributes = append(st.attributes, name)
			case "uniform":
				st.uniforms = append(st.uniforms, name)
			case "varying":
				st.varyings[name] = true
			}
		default:
			if m := assignment.FindStringSubmatch(stmt); m != nil {
				st.assignments[m[1]] = m[2]
			}
		}
	}
	return st, nil
}
