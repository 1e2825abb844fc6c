package deadslot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/opcode"
)

func ops(block bytecode.Block) []opcode.Op {
	var out []opcode.Op
	for _, el := range block {
		out = append(out, el.Op)
	}
	return out
}

func TestBareProducerFusesWithPop(t *testing.T) {
	block := bytecode.Block{{Op: opcode.PushNull}, {Op: opcode.Pop}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, ops(block))
}

func TestBareProducerFusesWithPopN(t *testing.T) {
	block := bytecode.Block{{Op: opcode.PushNull}, {Op: opcode.PopN, Args: []int{3}}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, block, 1)
	assert.Equal(t, opcode.PopN, block[0].Op)
	assert.Equal(t, []int{2}, block[0].Args)
}

func TestWrapFollowedByPopShrinksToPopN(t *testing.T) {
	block := bytecode.Block{{Op: opcode.Wrap, Args: []int{3}}, {Op: opcode.Pop}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, block, 1)
	assert.Equal(t, opcode.PopN, block[0].Op)
	assert.Equal(t, []int{3}, block[0].Args)
}

func TestWrapZeroFollowedByPopVanishes(t *testing.T) {
	block := bytecode.Block{{Op: opcode.Wrap, Args: []int{0}}, {Op: opcode.Pop}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, ops(block))
}

func TestPluckSingleFollowedByPopBecomesPopN(t *testing.T) {
	block := bytecode.Block{{Op: opcode.Pluck, Args: []int{4, 1, 0}}, {Op: opcode.Pop}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, block, 1)
	assert.Equal(t, opcode.PopN, block[0].Op)
	assert.Equal(t, []int{4}, block[0].Args)
}

func TestRecursesIntoConditionalAndLoopBranches(t *testing.T) {
	block := bytecode.Block{
		{
			Op:   opcode.If,
			Then: bytecode.Block{{Op: opcode.PushNull}, {Op: opcode.Pop}},
			Else: bytecode.Block{{Op: opcode.PushUndefined}, {Op: opcode.Pop}},
		},
		{
			Op:   opcode.WhileNotError,
			Body: bytecode.Block{{Op: opcode.PushFailed}, {Op: opcode.Pop}},
		},
	}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, ops(block[0].Then))
	assert.Empty(t, ops(block[0].Else))
	assert.Empty(t, ops(block[1].Body))
}

func TestSilentFailsPairWithNoCallCollapses(t *testing.T) {
	block := bytecode.Block{
		{Op: opcode.SilentFailsOn},
		{Op: opcode.PushNull},
		{Op: opcode.SilentFailsOff},
	}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []opcode.Op{opcode.PopN, opcode.PushNull, opcode.PopN}, ops(block))
	assert.Equal(t, []int{0}, block[0].Args)
	assert.Equal(t, []int{0}, block[2].Args)
}

func TestSilentFailsPairWithCallIsLeftAlone(t *testing.T) {
	block := bytecode.Block{
		{Op: opcode.SilentFailsOn},
		{Op: opcode.Call, Args: []int{1, 0, 0}},
		{Op: opcode.SilentFailsOff},
	}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, []opcode.Op{opcode.SilentFailsOn, opcode.Call, opcode.SilentFailsOff}, ops(block))
}

func TestSilentFailsPairWithCallInsideConditionalIsLeftAlone(t *testing.T) {
	block := bytecode.Block{
		{Op: opcode.SilentFailsOn},
		{
			Op:   opcode.If,
			Then: bytecode.Block{{Op: opcode.Rule, Args: []int{0}}},
			Else: bytecode.Block{{Op: opcode.PushNull}},
		},
		{Op: opcode.SilentFailsOff},
	}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, opcode.SilentFailsOn, block[0].Op)
	assert.Equal(t, opcode.SilentFailsOff, block[2].Op)
}

func TestNestedSilentFailsPairsResolveIndependently(t *testing.T) {
	block := bytecode.Block{
		{Op: opcode.SilentFailsOn},
		{Op: opcode.Call, Args: []int{1, 0, 0}},
		{Op: opcode.SilentFailsOn},
		{Op: opcode.PushNull},
		{Op: opcode.SilentFailsOff},
		{Op: opcode.SilentFailsOff},
	}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.True(t, changed)
	// Outer pair brackets a CALL and is left alone; inner pair doesn't and collapses.
	assert.Equal(t, []opcode.Op{
		opcode.SilentFailsOn, opcode.Call, opcode.PopN, opcode.PushNull, opcode.PopN, opcode.SilentFailsOff,
	}, ops(block))
}

func TestLeavesUnrelatedInstructionsAlone(t *testing.T) {
	block := bytecode.Block{{Op: opcode.Call, Args: []int{1, 0, 0}}}
	changed, err := Run(&block)
	require.NoError(t, err)
	assert.False(t, changed)
	require.Len(t, block, 1)
}
