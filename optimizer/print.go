package optimizer

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/32bitkid/bcopt/bytecode"
)

var (
	added   = color.New(color.FgGreen)
	removed = color.New(color.FgRed)
	dim     = color.New(color.Faint)
)

// Print writes a before/after trace of rule's optimization to w: each tree
// is flattened to a line per element (indentation follows block nesting),
// then diffed by position so a line present before but not after prints
// red with a "-" marker and a line only present after prints green with a
// "+" marker. Color is left to fatih/color's own TTY detection so piping
// to a bytes.Buffer in tests stays deterministic.
func Print(w io.Writer, rule string, before, after bytecode.Block) {
	dim.Fprintf(w, "-- %s --\n", rule)

	beforeLines := renderLines(before, 0)
	afterLines := renderLines(after, 0)

	i, j := 0, 0
	for i < len(beforeLines) || j < len(afterLines) {
		switch {
		case i < len(beforeLines) && j < len(afterLines) && beforeLines[i] == afterLines[j]:
			fmt.Fprintf(w, "  %s\n", beforeLines[i])
			i++
			j++
		case i < len(beforeLines) && (j >= len(afterLines) || !contains(afterLines[j:], beforeLines[i])):
			removed.Fprintf(w, "- %s\n", beforeLines[i])
			i++
		default:
			added.Fprintf(w, "+ %s\n", afterLines[j])
			j++
		}
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

// renderLines flattens block into one text line per element, depth-first,
// with indentation reflecting nesting, collected up front so Print can
// diff before/after by line.
func renderLines(block bytecode.Block, depth int) []string {
	indent := ""
	for i := 0; i < depth; i++ {
		indent += "  "
	}
	var out []string
	for i, el := range block {
		out = append(out, fmt.Sprintf("%s%3d: %s", indent, i, el.Op))
		if el.IsConditional() {
			out = append(out, indent+"  then:")
			out = append(out, renderLines(el.Then, depth+2)...)
			out = append(out, indent+"  else:")
			out = append(out, renderLines(el.Else, depth+2)...)
		}
		if el.IsLoop() {
			out = append(out, indent+"  body:")
			out = append(out, renderLines(el.Body, depth+2)...)
		}
	}
	return out
}
