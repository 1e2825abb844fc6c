// Package interp implements the abstract interpreter that is the
// optimizer's hard-engineering core: a symbolic stack machine that
// simulates the PEG VM's transfer functions over the value lattice,
// joins states at conditional boundaries, iterates loops to a fixpoint,
// and dispatches pre/post-instruction visitor hooks that let other
// packages (peephole, deadslot) rewrite the tree it is walking.
package interp

import (
	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/errs"
	"github.com/32bitkid/bcopt/grammar"
	"github.com/32bitkid/bcopt/opcode"
	"github.com/32bitkid/bcopt/value"
)

// PreInterpFunc runs before an element's transfer function. It may splice
// *block in place (starting at or after ip); the driver loop re-reads
// (*block)[ip] afterward, so a rewrite that keeps something at ip is picked
// up by the subsequent call to interp. Returning changed=true records that
// a rewrite happened, for the fixpoint driver.
type PreInterpFunc func(s *State, block *bytecode.Block, ip int) (changed bool, err error)

// PostInterpFunc runs after an element's transfer function, with access to
// its InterpResult (notably Cond, for conditional-fusion rules). Unlike
// PreInterpFunc, a PostInterpFunc rewrite can touch elements the driver has
// already interpreted this pass, so res.NextIP (computed before the
// rewrite) may no longer name the right element to resume at. When changed
// is true, nextIP is what the driver resumes at instead of res.NextIP;
// it is ignored otherwise.
type PostInterpFunc func(s *State, block *bytecode.Block, ip int, res InterpResult) (changed bool, nextIP int, err error)

// PreRunFunc and PostRunFunc bracket a whole block's interpretation. They
// fire once per State.Run call, only when Looping == 0.
type PreRunFunc func(s *State, block *bytecode.Block)
type PostRunFunc func(s *State, block *bytecode.Block)

// Hooks bundles the four visitor entry points the driver installs before
// running a state over a rule's tree.
type Hooks struct {
	PreInterp  PreInterpFunc
	PostInterp PostInterpFunc
	PreRun     PreRunFunc
	PostRun    PostRunFunc
}

// CondBranch is one side of a CondState: either a terminal snapshot, or,
// when that branch itself ended in a conditional, a nested CondState.
type CondBranch struct {
	Terminal *State
	Nested   *CondState
}

// CondState is the small tree the interpreter hands back after a
// conditional, recording each branch's abstract state at the join so
// follow-on optimizations (conditional fusion) can reason about it.
type CondState struct {
	Then CondBranch
	Else CondBranch
}

// InterpResult is the outcome of interpreting one element.
type InterpResult struct {
	NextIP  int
	Cond    *CondState
	Changed bool
}

// State is one abstract-interpreter snapshot: a symbolic value stack, the
// current position tracker, the silent-fails depth, and the bookkeeping
// needed to drive visitors and loop fixpoints.
type State struct {
	Stack       []value.Value
	CurrPos     value.Value
	SilentFails int
	Looping     int
	RuleName    string

	Hints grammar.Hints
	Hooks *Hooks

	// RuleNames resolves a RULE instruction's string-table index argument
	// to the callee's name, for Hints lookup. Resolving the string table
	// itself is an external collaborator's job; when nil, every RULE hint
	// is treated as unknown.
	RuleNames []string

	minter *value.Minter
}

// New creates a fresh interpreter state for one optimization of rule,
// with a freshly minted currPos identity.
func New(rule string, hints grammar.Hints, hooks *Hooks) *State {
	m := &value.Minter{}
	return &State{
		RuleName: rule,
		CurrPos:  value.WithID(value.Offset, m.Mint()),
		Hints:    hints,
		Hooks:    hooks,
		minter:   m,
	}
}

// Clone returns an independent copy of s: the stack is copied, but the
// identity minter is shared so that every identity minted across every
// clone of one optimization run stays globally unique.
func (s *State) Clone() *State {
	clone := &State{
		Stack:       append([]value.Value(nil), s.Stack...),
		CurrPos:     s.CurrPos,
		SilentFails: s.SilentFails,
		Looping:     s.Looping,
		RuleName:    s.RuleName,
		Hints:       s.Hints,
		Hooks:       s.Hooks,
		RuleNames:   s.RuleNames,
		minter:      s.minter,
	}
	return clone
}

func (s *State) mint() value.Identity { return s.minter.Mint() }

func (s *State) err(kind errs.Kind, format string, args ...interface{}) *errs.Error {
	return errs.New(kind, s.RuleName, format, args...)
}

// Push pushes v onto the symbolic stack.
func (s *State) Push(v value.Value) { s.Stack = append(s.Stack, v) }

// Pop removes and returns the top of the symbolic stack.
func (s *State) Pop() (value.Value, error) {
	if len(s.Stack) == 0 {
		return value.Value{}, s.err(errs.StackUnderflow, "pop on empty stack")
	}
	v := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-1]
	return v, nil
}

// PopN removes the top n values.
func (s *State) PopN(n int) error {
	if n < 0 {
		return s.err(errs.StackUnderflow, "negative discard count %d", n)
	}
	if len(s.Stack) < n {
		return s.err(errs.StackUnderflow, "discard of %d exceeds stack depth %d", n, len(s.Stack))
	}
	s.Stack = s.Stack[:len(s.Stack)-n]
	return nil
}

// Peek returns the value at depth (0 = top) without popping.
func (s *State) Peek(depth int) (value.Value, error) {
	if depth < 0 || depth >= len(s.Stack) {
		return value.Value{}, s.err(errs.StackUnderflow, "inspect at depth %d exceeds stack depth %d", depth, len(s.Stack))
	}
	return s.Stack[len(s.Stack)-1-depth], nil
}

// Len returns the current stack depth.
func (s *State) Len() int { return len(s.Stack) }

// interp computes the transfer function of the element at block[ip] and
// returns the resulting InterpResult.
func (s *State) interp(block *bytecode.Block, ip int) (InterpResult, error) {
	el := (*block)[ip]
	op := el.Op

	switch {
	case el.IsConditional():
		return s.interpCondition(block, ip)
	case el.IsLoop():
		return s.interpLoop(block, ip)
	}

	if err := s.interpFlat(op, el.Args); err != nil {
		return InterpResult{}, err
	}
	return InterpResult{NextIP: ip + 1}, nil
}

func (s *State) interpFlat(op opcode.Op, args []int) error {
	switch op {
	case opcode.PushEmptyString:
		s.Push(value.Of(value.String))
	case opcode.PushCurrPos:
		s.Push(s.CurrPos)
	case opcode.PushUndefined:
		s.Push(value.Of(value.Undefined))
	case opcode.PushNull:
		s.Push(value.Of(value.Null))
	case opcode.PushFailed:
		s.Push(value.Of(value.Failed))
	case opcode.PushEmptyArray:
		s.Push(value.WithID(value.Array, s.mint()))

	case opcode.Pop:
		_, err := s.Pop()
		return err
	case opcode.PopN:
		return s.PopN(args[0])
	case opcode.Nip:
		return s.nip()

	case opcode.PopCurrPos:
		top, err := s.Pop()
		if err != nil {
			return err
		}
		if top.Tag != value.Offset {
			return s.err(errs.BadCurrPos, "POP_CURR_POS on non-OFFSET value (tag %s)", top.Tag)
		}
		id := top.ID
		if id == 0 {
			id = s.mint()
		}
		s.CurrPos = value.WithID(value.Offset, id)

	case opcode.Append:
		if _, err := s.Pop(); err != nil {
			return err
		}
		top, err := s.Peek(0)
		if err != nil {
			return err
		}
		if top.Tag != value.Array {
			return s.err(errs.BadAppend, "APPEND onto non-ARRAY value (tag %s)", top.Tag)
		}
	case opcode.Wrap:
		if err := s.PopN(args[0]); err != nil {
			return err
		}
		s.Push(value.WithID(value.Array, s.mint()))
	case opcode.Text:
		top, err := s.Pop()
		if err != nil {
			return err
		}
		if top.Tag != value.Offset {
			return s.err(errs.BadText, "TEXT on non-OFFSET value (tag %s)", top.Tag)
		}
		s.Push(value.Of(value.String))
	case opcode.Pluck:
		return s.pluck(args)

	case opcode.AcceptN, opcode.AcceptString:
		s.CurrPos = value.WithID(value.Offset, s.mint())
		s.Push(value.Of(value.String))
	case opcode.LoadSavedPos, opcode.UpdateSavedPos:
		// Affects the position register the next CALL's action closure
		// observes, not the symbolic value stack or currPos.
	case opcode.Fail:
		s.Push(value.Of(value.Failed))
	case opcode.SilentFailsOn:
		s.SilentFails++
	case opcode.SilentFailsOff:
		if s.SilentFails > 0 {
			s.SilentFails--
		}
	case opcode.Call:
		return s.call(args)
	case opcode.Rule:
		s.CurrPos = value.WithID(value.Offset, s.mint())
		s.Push(s.ruleHint(args))
	case opcode.SourceMapPush, opcode.SourceMapPop, opcode.SourceMapLabelPush, opcode.SourceMapLabelPop:
		// No semantic effect on the abstract stack.
	default:
		return s.err(errs.InvalidOpcode, "unhandled opcode %s", op)
	}
	return nil
}

func (s *State) nip() error {
	if len(s.Stack) < 2 {
		return s.err(errs.StackUnderflow, "NIP requires at least 2 stack values, have %d", len(s.Stack))
	}
	top := s.Stack[len(s.Stack)-1]
	s.Stack = s.Stack[:len(s.Stack)-2]
	s.Stack = append(s.Stack, top)
	return nil
}

// pluck implements PLUCK n k p1..pk: inspect k indices into the top-n
// window without popping, then discard n, then push either the single
// inspected value (k==1) or an ARRAY combining them.
func (s *State) pluck(args []int) error {
	if len(args) < 2 {
		return s.err(errs.InvalidOpcode, "PLUCK missing n/k arguments")
	}
	n, k := args[0], args[1]
	if n < 0 {
		return s.err(errs.StackUnderflow, "PLUCK negative discard count %d", n)
	}
	ps := args[2:]
	if len(ps) != k {
		return s.err(errs.InvalidOpcode, "PLUCK declares k=%d but has %d indices", k, len(ps))
	}
	if len(s.Stack) < n {
		return s.err(errs.StackUnderflow, "PLUCK discard of %d exceeds stack depth %d", n, len(s.Stack))
	}

	window := s.Stack[len(s.Stack)-n:]
	inspected := make([]value.Value, k)
	for i, p := range ps {
		if p < 0 || p >= n {
			return s.err(errs.StackUnderflow, "PLUCK index %d out of window [0,%d)", p, n)
		}
		// p indexes from the top of the window (p==0 is the topmost).
		inspected[i] = window[n-1-p]
	}

	if err := s.PopN(n); err != nil {
		return err
	}
	if k == 1 {
		s.Push(inspected[0])
		return nil
	}
	s.Push(value.WithID(value.Array, s.mint()))
	return nil
}

// call implements CALL f n pc p1..pN: inspect the pc parameter indices,
// discard n arguments, advance currPos, push the call's result.
func (s *State) call(args []int) error {
	if len(args) < 3 {
		return s.err(errs.InvalidOpcode, "CALL missing f/n/pc arguments")
	}
	n, pc := args[1], args[2]
	ps := args[3:]
	if len(ps) != pc {
		return s.err(errs.InvalidOpcode, "CALL declares pc=%d but has %d indices", pc, len(ps))
	}
	for _, p := range ps {
		if _, err := s.Peek(p); err != nil {
			return err
		}
	}
	if err := s.PopN(n); err != nil {
		return err
	}
	s.CurrPos = value.WithID(value.Offset, s.mint())
	s.Push(value.Of(value.Any))
	return nil
}

// ruleHint computes the value a RULE instruction pushes, consulting the
// grammar hint when available.
func (s *State) ruleHint(args []int) value.Value {
	if s.Hints == nil || len(args) == 0 {
		return value.Of(value.Any)
	}
	ix := args[0]
	if ix < 0 || ix >= len(s.RuleNames) {
		return value.Of(value.Any)
	}
	callee := s.RuleNames[ix]
	switch s.Hints.Hint(callee) {
	case grammar.HintAlwaysMatches:
		return value.Of(value.Any &^ value.Failed)
	case grammar.HintNeverMatches:
		return value.Of(value.Failed)
	default:
		return value.Of(value.Any)
	}
}
