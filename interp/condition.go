package interp

import (
	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/errs"
	"github.com/32bitkid/bcopt/opcode"
	"github.com/32bitkid/bcopt/value"
)

// classifyMask reports, given a mask describing when a branch is taken
// ("this side reached ⇔ top must be in mask"), whether top makes that side
// the only reachable one, and the tag top would carry if refined to that
// side.
func classifyMask(top value.Value, mask value.T) (only bool, refined value.T) {
	only = value.MustBe(top, mask)
	refined = top.Tag & mask
	if refined == 0 {
		refined = top.Tag
	}
	return only, refined
}

// classifier reports, for a conditional with a stack-top-tested condition,
// whether the given side is the only reachable one and what top's tag
// should be refined to on that side.
type classifier func(top value.Value, forThen bool) (only bool, refinedTag value.T)

// boolClassifier builds the classifier for IF: then taken when top is
// truthy, else when falsy.
func boolClassifier() classifier {
	trueMask, falseMask := value.Array|value.Failed, value.Null|value.Undefined
	return func(top value.Value, forThen bool) (bool, value.T) {
		if forThen {
			only, refined := classifyMask(top, trueMask)
			return only, refined
		}
		only, refined := classifyMask(top, falseMask)
		return only, refined
	}
}

// errClassifier builds the classifier for IF_ERROR/IF_NOT_ERROR: thenIsError
// controls which side corresponds to "top is FAILED".
func errClassifier(thenIsError bool) classifier {
	errMask, okMask := value.Failed, value.Any&^value.Failed
	if !thenIsError {
		errMask, okMask = okMask, errMask
	}
	return func(top value.Value, forThen bool) (bool, value.T) {
		if forThen {
			only, refined := classifyMask(top, errMask)
			return only, refined
		}
		only, refined := classifyMask(top, okMask)
		return only, refined
	}
}

// classifierFor returns the classifier for op, or nil if op's branching
// doesn't depend on the stack top: only IF, IF_ERROR and IF_NOT_ERROR
// classify.
func classifierFor(op opcode.Op) classifier {
	switch op {
	case opcode.If:
		return boolClassifier()
	case opcode.IfError:
		return errClassifier(true)
	case opcode.IfNotError:
		return errClassifier(false)
	default:
		return nil
	}
}

// interpCondition clones into a then-branch, runs both sides, optionally
// collapses a statically-determined branch, and merges the surviving
// states.
func (s *State) interpCondition(block *bytecode.Block, ip int) (InterpResult, error) {
	el := (*block)[ip]
	classify := classifierFor(el.Op)

	if classify != nil && s.Looping == 0 {
		top, err := s.Peek(0)
		if err != nil {
			return InterpResult{}, err
		}
		thenOnly, elseOnly := decideReachability(top, classify)
		if thenOnly && elseOnly {
			return InterpResult{}, s.err(errs.ImpossibleConditional,
				"%s: both branches statically unreachable", el.Op)
		}
		if thenOnly {
			return s.collapseConditional(block, ip, el.Then)
		}
		if elseOnly {
			return s.collapseConditional(block, ip, el.Else)
		}
	}

	thenState := s.Clone()
	if classify != nil && s.Looping == 0 {
		top, _ := thenState.Peek(0)
		_, thenTag := classify(top, true)
		thenState.Stack[len(thenState.Stack)-1] = value.Value{Tag: thenTag}

		elseTop, _ := s.Peek(0)
		_, elseTag := classify(elseTop, false)
		s.Stack[len(s.Stack)-1] = value.Value{Tag: elseTag}
	}

	thenChanged, thenCond, err := thenState.Run(&el.Then)
	if err != nil {
		return InterpResult{}, err
	}
	elseChanged, elseCond, err := s.Run(&el.Else)
	if err != nil {
		return InterpResult{}, err
	}

	// Empty-else "conditional push" pattern: truncate the then-side stack
	// back to the else-side length before merging.
	if len(el.Else) == 0 && len(thenState.Stack) > len(s.Stack) {
		thenState.Stack = thenState.Stack[:len(s.Stack)]
	}

	elseTerminal := s.Clone()
	if err := s.merge(thenState); err != nil {
		return InterpResult{}, err
	}

	cond := &CondState{
		Then: branchFor(thenState, thenCond),
		Else: branchFor(elseTerminal, elseCond),
	}

	res := InterpResult{NextIP: ip + 1, Cond: cond, Changed: thenChanged || elseChanged}
	return res, nil
}

// decideReachability applies classify to top for both sides, isolated so
// tests can exercise the ImpossibleConditional path directly with a
// contradictory classifier — something the lattice's real, complementary
// masks can never produce from a correctly emitted program.
func decideReachability(top value.Value, classify classifier) (thenOnly, elseOnly bool) {
	thenOnly, _ = classify(top, true)
	elseOnly, _ = classify(top, false)
	return thenOnly, elseOnly
}

func branchFor(terminal *State, nested *CondState) CondBranch {
	if nested != nil {
		return CondBranch{Nested: nested}
	}
	return CondBranch{Terminal: terminal}
}

// collapseConditional replaces the conditional at ip with the statically
// reachable branch's code, spliced in place.
func (s *State) collapseConditional(block *bytecode.Block, ip int, branch bytecode.Block) (InterpResult, error) {
	replacement := branch.Clone()
	*block = spliceBlock(*block, ip, 1, replacement)
	return InterpResult{NextIP: ip, Changed: true}, nil
}

// spliceBlock replaces length elements starting at start with replacement,
// the one splicing primitive every rewrite in this module goes through.
func spliceBlock(block bytecode.Block, start, length int, replacement bytecode.Block) bytecode.Block {
	tail := append(bytecode.Block(nil), block[start+length:]...)
	out := append(block[:start:start], replacement...)
	out = append(out, tail...)
	return out
}

// merge joins two states at a conditional's join point. Receiver is
// mutated in place to become the merged state; other is left unmodified.
func (s *State) merge(other *State) error {
	if len(s.Stack) != len(other.Stack) {
		return s.err(errs.StackMismatch, "merge of stacks with depths %d and %d", len(s.Stack), len(other.Stack))
	}
	if s.SilentFails != other.SilentFails {
		return s.err(errs.SilentFailsMismatch, "merge of silentFails=%d and silentFails=%d", s.SilentFails, other.SilentFails)
	}
	for i := range s.Stack {
		s.Stack[i] = value.Union(s.Stack[i], other.Stack[i])
	}
	s.CurrPos = value.Union(s.CurrPos, other.CurrPos)
	return nil
}

// Equal compares two states for loop-fixpoint convergence. CurrPos is
// deliberately excluded — each iteration legitimately mints a fresh
// identity for it.
func (s *State) Equal(other *State) bool {
	if len(s.Stack) != len(other.Stack) || s.SilentFails != other.SilentFails {
		return false
	}
	for i := range s.Stack {
		if !value.Equal(s.Stack[i], other.Stack[i]) {
			return false
		}
	}
	return true
}
