// Package peephole implements the pre- and post-interpretation rewrite
// rules the driver installs on an interp.State. Every rule here is
// conservative: the replacement it splices in must leave the
// interpreter in exactly the abstract state it would have reached without
// the rewrite.
package peephole

import (
	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/interp"
	"github.com/32bitkid/bcopt/opcode"
	"github.com/32bitkid/bcopt/value"
)

// Hooks returns the interp.Hooks implementing this package's rewrite set,
// ready to install on a fresh interp.State.
func Hooks() *interp.Hooks {
	return &interp.Hooks{
		PreInterp:  preInterp,
		PostInterp: postInterp,
	}
}

func element(block *bytecode.Block, ip int) *bytecode.Element {
	if ip < 0 || ip >= len(*block) {
		return nil
	}
	return (*block)[ip]
}

func splice(block *bytecode.Block, start, length int, replacement bytecode.Block) {
	tail := append(bytecode.Block(nil), (*block)[start+length:]...)
	out := append((*block)[:start:start], replacement...)
	*block = append(out, tail...)
}

func flat(op opcode.Op, args ...int) *bytecode.Element {
	return &bytecode.Element{Op: op, Args: args}
}

// isPushKind reports whether op is one of the bare push-constant opcodes
// that this module's rules treat uniformly.
func isPushKind(op opcode.Op) bool {
	switch op {
	case opcode.PushEmptyString, opcode.PushCurrPos, opcode.PushUndefined,
		opcode.PushNull, opcode.PushFailed, opcode.PushEmptyArray:
		return true
	default:
		return false
	}
}

// isPushLike additionally covers RULE/ACCEPT_N/ACCEPT_STRING/FAIL, which
// group with the bare pushes because they too leave exactly one new value
// on top of the stack.
func isPushLike(op opcode.Op) bool {
	switch op {
	case opcode.Rule, opcode.AcceptN, opcode.AcceptString, opcode.Fail:
		return true
	default:
		return isPushKind(op)
	}
}

// preInterp implements the pre-interp rewrite rules.
func preInterp(s *interp.State, block *bytecode.Block, ip int) (bool, error) {
	cur := element(block, ip)
	if cur == nil || cur.IsConditional() || cur.IsLoop() {
		return preInterpConditional(s, block, ip)
	}
	next := element(block, ip+1)
	if next == nil {
		return false, nil
	}

	switch {
	case isPushLike(cur.Op) && next.Op == opcode.Nip:
		// swap: [POP], [pushOp]
		splice(block, ip, 2, bytecode.Block{flat(opcode.Pop), cur.Clone()})
		return true, nil

	case cur.Op == opcode.Call && next.Op == opcode.Nip:
		args := append([]int(nil), cur.Args...)
		args[1]++ // bump the discard count n
		splice(block, ip, 2, bytecode.Block{{Op: opcode.Call, Args: args}})
		return true, nil

	case cur.Op == opcode.Text && discardsTop(next):
		splice(block, ip, 1, nil)
		return true, nil

	case cur.Op == opcode.Text && next.Op == opcode.Nip:
		splice(block, ip, 2, bytecode.Block{next.Clone(), cur.Clone()})
		return true, nil

	case cur.Op == opcode.PopCurrPos:
		if top, err := s.Peek(0); err == nil && top.Tag == value.Offset && top.ID != 0 && top.ID == s.CurrPos.ID {
			splice(block, ip, 1, bytecode.Block{flat(opcode.Pop)})
			return true, nil
		}
		return false, nil

	case cur.Op == opcode.Nip && discardsTop(next):
		splice(block, ip, 1, bytecode.Block{flat(opcode.Pop)})
		return true, nil

	case (cur.Op == opcode.Wrap || cur.Op == opcode.Pluck) && discardsTop(next):
		return rewriteWrapOrPluckBeforeKiller(block, ip, cur)

	case cur.Op == opcode.Pop && isPushKind(next.Op):
		if top, err := s.Peek(0); err == nil && value.MustBe(top, pushTag(next.Op)) {
			splice(block, ip, 2, nil)
			return true, nil
		}
		return false, nil
	}
	return false, nil
}

// discardsTop reports whether el throws away the current top of stack: a
// POP, or a POP_N with a positive count. NIP removes the slot below the
// top, so it does not count.
func discardsTop(el *bytecode.Element) bool {
	return el.Op == opcode.Pop || (el.Op == opcode.PopN && len(el.Args) == 1 && el.Args[0] > 0)
}

// pushTag is the tag a bare push-constant opcode always produces, used by
// the "POP followed by a known-redundant PUSH" rule.
func pushTag(op opcode.Op) value.T {
	switch op {
	case opcode.PushEmptyString:
		return value.String
	case opcode.PushCurrPos:
		return value.Offset
	case opcode.PushUndefined:
		return value.Undefined
	case opcode.PushNull:
		return value.Null
	case opcode.PushFailed:
		return value.Failed
	case opcode.PushEmptyArray:
		return value.Array
	default:
		return value.Any
	}
}

func preInterpConditional(s *interp.State, block *bytecode.Block, ip int) (bool, error) {
	cur := element(block, ip)
	if cur == nil || !cur.IsConditional() {
		return false, nil
	}
	if blockIsPopsOnly(cur.Then) && blockIsPopsOnly(cur.Else) {
		splice(block, ip, 1, cur.Else.Clone())
		return true, nil
	}
	return false, nil
}

func blockIsPopsOnly(b bytecode.Block) bool {
	for _, el := range b {
		if el.Op != opcode.Pop && el.Op != opcode.PopN {
			return false
		}
	}
	return true
}

// rewriteWrapOrPluckBeforeKiller narrows a WRAP or PLUCK window that is
// immediately discarded by a slot-killer.
func rewriteWrapOrPluckBeforeKiller(block *bytecode.Block, ip int, cur *bytecode.Element) (bool, error) {
	n := cur.Args[0]
	switch {
	case n == 0:
		splice(block, ip, 1, bytecode.Block{flat(opcode.PushNull)})
	case n == 1:
		splice(block, ip, 1, nil)
	default:
		splice(block, ip, 1, bytecode.Block{flat(opcode.PopN, n-1)})
	}
	return true, nil
}

// postInterp implements the post-interp rewrite rules. Every rewrite here
// runs against a live state whose stack already reflects cur's transfer
// function, so a rewrite that deletes cur's bytecode (rather than replacing
// it one-for-one) must also undo its effect on s, and must report the
// index the driver should resume at rather than let it fall through to
// res.NextIP, which was computed before the splice.
func postInterp(s *interp.State, block *bytecode.Block, ip int, res interp.InterpResult) (bool, int, error) {
	cur := element(block, ip)
	if cur == nil {
		return false, 0, nil
	}
	next := element(block, ip+1)

	if next != nil {
		changed, err := deadPush(s, block, ip, cur, next)
		if err != nil {
			return false, 0, err
		}
		if changed {
			return true, ip, nil
		}
	}

	if cur.Op == opcode.Fail && s.SilentFails > 0 {
		splice(block, ip, 1, bytecode.Block{flat(opcode.PushFailed)})
		return true, ip + 1, nil
	}

	if cur.Op == opcode.SilentFailsOn && s.SilentFails > 1 {
		splice(block, ip, 1, nil)
		return true, ip, nil
	}
	if cur.Op == opcode.SilentFailsOff && s.SilentFails > 0 {
		splice(block, ip, 1, nil)
		return true, ip, nil
	}

	if cur.Op == opcode.PopCurrPos && deadCurrPos(block, ip+1) {
		splice(block, ip, 1, bytecode.Block{flat(opcode.Pop)})
		return true, ip + 1, nil
	}

	if res.Cond != nil && next != nil {
		if changed := fuseConditional(s, block, ip, cur, next, res.Cond); changed {
			return true, ip + 1, nil
		}
	}
	return false, 0, nil
}

// deadPush fuses a push (or a FAIL while silentFails > 0) immediately
// followed by a discard of just that value. cur's push already landed on
// s's live stack, so every branch here pops it back off directly instead
// of leaving it to a POP/POP_N that this rewrite is about to delete.
func deadPush(s *interp.State, block *bytecode.Block, ip int, cur, next *bytecode.Element) (bool, error) {
	isPush := isPushKind(cur.Op) || (cur.Op == opcode.Fail && s.SilentFails > 0)
	if !isPush {
		return false, nil
	}
	switch next.Op {
	case opcode.Pop:
		if _, err := s.Pop(); err != nil {
			return false, err
		}
		splice(block, ip, 2, nil)
		return true, nil
	case opcode.PopN:
		k := next.Args[0]
		if k <= 0 {
			return false, nil
		}
		if _, err := s.Pop(); err != nil {
			return false, err
		}
		if k == 1 {
			splice(block, ip, 2, nil)
		} else {
			splice(block, ip, 2, bytecode.Block{flat(opcode.PopN, k-1)})
		}
		return true, nil
	}
	return false, nil
}

// deadCurrPos reports whether a later POP_CURR_POS in the same block
// overwrites currPos before any instruction reads it (searched shallowly),
// so a POP_CURR_POS that just set it can be downgraded to a plain POP.
// Reaching a conditional, a loop or the end of the block counts as a
// possible read.
func deadCurrPos(block *bytecode.Block, startIP int) bool {
	for ip := startIP; ip < len(*block); ip++ {
		el := (*block)[ip]
		if el.IsConditional() || el.IsLoop() {
			// Conservative: a branch or loop might read currPos on some
			// path, so stop looking rather than risk a false positive.
			return false
		}
		if opcode.ReadsCurrPos(el.Op) {
			return false
		}
		if el.Op == opcode.PopCurrPos {
			// currPos is overwritten again before any read: still dead.
			return true
		}
	}
	// Whatever runs after this block may read currPos.
	return false
}

// fuseConditional implements two rules that both push a following element
// into each terminal branch of the preceding conditional, then delete the
// outer copy: a pop-chain immediately after the conditional (NIP/POP/POP_N,
// possibly several in a row), and a following conditional or loop of its
// own (IF/IF_ERROR/IF_NOT_ERROR/WHILE_NOT_ERROR). Both are restricted to
// the case where neither of cond's branches itself ended in a further
// conditional (cond.Then.Nested/cond.Else.Nested are nil) — fusing into a
// branch that already carries a nested CondState would require threading
// the fusion through that nesting too, which this pass doesn't attempt.
func fuseConditional(s *interp.State, block *bytecode.Block, ip int, cur, next *bytecode.Element, cond *interp.CondState) bool {
	if cond.Then.Nested != nil || cond.Else.Nested != nil {
		return false
	}

	if next.IsConditional() || next.IsLoop() {
		newCur := cur.Clone()
		newCur.Then = append(newCur.Then, next.Clone())
		newCur.Else = append(newCur.Else, next.Clone())
		splice(block, ip, 2, bytecode.Block{newCur})
		return true
	}

	if !opcode.IsSlotKiller(next.Op) {
		return false
	}
	// Find the end of the contiguous pop-chain starting at ip+1.
	end := ip + 1
	for end < len(*block) && opcode.IsSlotKiller((*block)[end].Op) {
		end++
	}
	chain := append(bytecode.Block(nil), (*block)[ip+1:end]...)

	pushInto := func(branch bytecode.Block) bytecode.Block {
		out := append(bytecode.Block(nil), branch...)
		for _, el := range chain {
			out = append(out, el.Clone())
		}
		return out
	}
	newCur := cur.Clone()
	newCur.Then = pushInto(cur.Then)
	newCur.Else = pushInto(cur.Else)

	splice(block, ip, end-ip, bytecode.Block{newCur})
	return true
}
