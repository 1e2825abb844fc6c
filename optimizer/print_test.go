package optimizer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/opcode"
)

func TestPrintMarksAddedAndRemovedLines(t *testing.T) {
	prevNoColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prevNoColor }()

	before := bytecode.Block{{Op: opcode.PushNull}, {Op: opcode.Pop}}
	after := bytecode.Block{}

	var buf bytes.Buffer
	Print(&buf, "R", before, after)

	out := buf.String()
	require.Contains(t, out, "- ")
	assert.Contains(t, out, "PUSH_NULL")
	assert.Contains(t, out, "POP")
}

func TestPrintRendersNestedBlocks(t *testing.T) {
	prevNoColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prevNoColor }()

	tree := bytecode.Block{
		{
			Op:   opcode.If,
			Then: bytecode.Block{{Op: opcode.PushNull}},
			Else: bytecode.Block{{Op: opcode.PushUndefined}},
		},
	}
	var buf bytes.Buffer
	Print(&buf, "R", tree, tree)
	out := buf.String()
	assert.Contains(t, out, "then:")
	assert.Contains(t, out, "else:")
	assert.Contains(t, out, "IF")
}
