package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/errs"
	"github.com/32bitkid/bcopt/grammar"
	"github.com/32bitkid/bcopt/opcode"
	"github.com/32bitkid/bcopt/value"
)

func runFlat(t *testing.T, s *State, block bytecode.Block) {
	t.Helper()
	_, _, err := s.Run(&block)
	require.NoError(t, err)
}

func TestPushOpcodes(t *testing.T) {
	cases := []struct {
		op  opcode.Op
		tag value.T
	}{
		{opcode.PushEmptyString, value.String},
		{opcode.PushCurrPos, value.Offset},
		{opcode.PushUndefined, value.Undefined},
		{opcode.PushNull, value.Null},
		{opcode.PushFailed, value.Failed},
		{opcode.PushEmptyArray, value.Array},
	}
	for i, tc := range cases {
		s := New("R", nil, nil)
		block := bytecode.Block{{Op: tc.op}}
		runFlat(t, s, block)
		require.Equalf(t, 1, s.Len(), "case %d", i)
		top, err := s.Peek(0)
		require.NoErrorf(t, err, "case %d", i)
		assert.Equalf(t, tc.tag, top.Tag, "case %d", i)
	}
}

func TestPopUnderflow(t *testing.T) {
	s := New("R", nil, nil)
	_, err := s.Pop()
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.StackUnderflow, kind)
}

func TestPopCurrPosPreservesIdentity(t *testing.T) {
	s := New("R", nil, nil)
	before := s.CurrPos
	s.Push(s.CurrPos)
	block := bytecode.Block{{Op: opcode.PopCurrPos}}
	runFlat(t, s, block)
	assert.Equal(t, before, s.CurrPos)
	assert.Equal(t, 0, s.Len())
}

func TestPopCurrPosRejectsNonOffset(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	block := bytecode.Block{{Op: opcode.PopCurrPos}}
	_, _, err := s.Run(&block)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.BadCurrPos, kind)
}

func TestAppendRequiresArrayBelow(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.Array))
	s.Push(value.Of(value.String))
	block := bytecode.Block{{Op: opcode.Append}}
	runFlat(t, s, block)
	top, err := s.Peek(0)
	require.NoError(t, err)
	assert.Equal(t, value.Array, top.Tag)
}

func TestAppendRejectsNonArrayBelow(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	s.Push(value.Of(value.String))
	block := bytecode.Block{{Op: opcode.Append}}
	_, _, err := s.Run(&block)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.BadAppend, kind)
}

func TestTextRequiresOffset(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	block := bytecode.Block{{Op: opcode.Text}}
	_, _, err := s.Run(&block)
	require.Error(t, err)
	kind, _ := errs.KindOf(err)
	assert.Equal(t, errs.BadText, kind)
}

func TestWrap(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	s.Push(value.Of(value.String))
	block := bytecode.Block{{Op: opcode.Wrap, Args: []int{2}}}
	runFlat(t, s, block)
	require.Equal(t, 1, s.Len())
	top, _ := s.Peek(0)
	assert.Equal(t, value.Array, top.Tag)
}

func TestPluckSingle(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	s.Push(value.Of(value.Null))
	s.Push(value.Of(value.Undefined))
	// window is the top 3: [String, Null, Undefined], p=0 is topmost (Undefined).
	block := bytecode.Block{{Op: opcode.Pluck, Args: []int{3, 1, 0}}}
	runFlat(t, s, block)
	require.Equal(t, 1, s.Len())
	top, _ := s.Peek(0)
	assert.Equal(t, value.Undefined, top.Tag)
}

func TestPluckMultiple(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	s.Push(value.Of(value.Null))
	block := bytecode.Block{{Op: opcode.Pluck, Args: []int{2, 2, 0, 1}}}
	runFlat(t, s, block)
	require.Equal(t, 1, s.Len())
	top, _ := s.Peek(0)
	assert.Equal(t, value.Array, top.Tag)
}

func TestCallInspectsArgsAndPushesAny(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.Of(value.String))
	s.Push(value.Of(value.Null))
	// CALL f=1 n=2 pc=1 p1=0 (inspect the topmost of the 2 args).
	block := bytecode.Block{{Op: opcode.Call, Args: []int{1, 2, 1, 0}}}
	runFlat(t, s, block)
	require.Equal(t, 1, s.Len())
	top, _ := s.Peek(0)
	assert.Equal(t, value.Any, top.Tag)
}

func TestRuleHintResolvesCalleeByName(t *testing.T) {
	hints := grammar.StaticHints{"Digit": grammar.HintAlwaysMatches, "Never": grammar.HintNeverMatches}
	s := New("Expr", hints, nil)
	s.RuleNames = []string{"Digit", "Never"}

	block := bytecode.Block{{Op: opcode.Rule, Args: []int{0}}}
	runFlat(t, s, block)
	top, _ := s.Peek(0)
	assert.Equal(t, value.Any&^value.Failed, top.Tag)

	s2 := New("Expr", hints, nil)
	s2.RuleNames = []string{"Digit", "Never"}
	block2 := bytecode.Block{{Op: opcode.Rule, Args: []int{1}}}
	runFlat(t, s2, block2)
	top2, _ := s2.Peek(0)
	assert.Equal(t, value.Failed, top2.Tag)
}

func TestRuleHintFallsBackToAnyWithoutHints(t *testing.T) {
	s := New("Expr", nil, nil)
	block := bytecode.Block{{Op: opcode.Rule, Args: []int{0}}}
	runFlat(t, s, block)
	top, _ := s.Peek(0)
	assert.Equal(t, value.Any, top.Tag)
}

func TestCloneSharesMinterAcrossIdentities(t *testing.T) {
	s := New("R", nil, nil)
	s.Push(value.WithID(value.Array, s.mint()))
	clone := s.Clone()
	id := clone.mint()
	assert.NotEqual(t, value.Identity(0), id)
	orig, _ := s.Peek(0)
	assert.NotEqual(t, orig.ID, id)
}
