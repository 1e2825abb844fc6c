// Package deadslot implements the optimizer's second pass: a dataflow
// sweep that finds stack slots a rule's bytecode produces but never
// consumes, and removes the producer/consumer pair, narrowing WRAP and
// PLUCK windows as it goes. It also collapses SILENT_FAILS_ON/OFF pairs
// that bracket no CALL/FAIL/RULE, since toggling the silent-fails depth
// around code that can't observe or report a failure has no effect.
//
// Unlike the peephole package, this pass does not run inline with the
// abstract interpreter. It walks the formatted tree directly, looking for
// a producer immediately followed by the consumer that discards it, and
// only proposes a rewrite when that local picture is unambiguous.
package deadslot

import (
	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/opcode"
)

// slot identifies a stack slot by the instruction that produced it: the
// producing element, the block that contains it, and its index there.
type slot struct {
	el    *bytecode.Element
	block *bytecode.Block
	index int
}

// Run applies the dead-slot pass to block once, returning whether anything
// changed. It is meant to be called repeatedly by the optimizer driver
// until it reports no change, alongside the peephole pass.
func Run(block *bytecode.Block) (bool, error) {
	return runBlock(block)
}

// runBlock walks block depth-first, removing any POP/POP_N whose
// discarded slots were produced by an immediately-adjacent, side-effect-free
// producer this pass can safely delete, and narrowing WRAP/PLUCK windows
// that include a slot nothing downstream reads. NIP consumers are not
// rewritten here.
//
// This is a conservative, local approximation of a full interprocedural
// dataflow sweep: it only proposes a rewrite when the producer and its
// sole consumer are adjacent in the same block, which is exactly the
// shape the peephole pass's own rewrites tend to create. Running this
// pass to a fixpoint alongside the peephole pass lets a chain of
// locally-adjacent rewrites simulate a more global sweep.
func runBlock(block *bytecode.Block) (bool, error) {
	changed := false
	for i := 0; i < len(*block); i++ {
		el := (*block)[i]

		if el.IsConditional() {
			ch1, err := runBlock(&el.Then)
			if err != nil {
				return false, err
			}
			ch2, err := runBlock(&el.Else)
			if err != nil {
				return false, err
			}
			changed = changed || ch1 || ch2
			continue
		}
		if el.IsLoop() {
			ch, err := runBlock(&el.Body)
			if err != nil {
				return false, err
			}
			changed = changed || ch
			continue
		}

		if el.Op == opcode.SilentFailsOn {
			if j, ok := matchingSilentFailsOff(*block, i); ok {
				(*block)[i] = &bytecode.Element{Op: opcode.PopN, Args: []int{0}}
				(*block)[j] = &bytecode.Element{Op: opcode.PopN, Args: []int{0}}
				changed = true
				continue
			}
		}

		if i+1 >= len(*block) {
			continue
		}
		next := (*block)[i+1]

		if rewritePair(block, i, el, next) {
			changed = true
			i--
			continue
		}
	}
	return changed, nil
}

// matchingSilentFailsOff finds the SILENT_FAILS_OFF balancing the
// SILENT_FAILS_ON at index start within block, tracking nesting depth so a
// pair of pairs (ON ON OFF OFF) resolves to the right partner. It reports
// ok=false if no balancing OFF exists, or if anything between them could
// observe or report a failure (CALL, FAIL, RULE, or one nested inside a
// conditional/loop in that range), since those are the only opcodes whose
// behavior depends on the silent-fails depth.
func matchingSilentFailsOff(block bytecode.Block, start int) (j int, ok bool) {
	depth := 0
	for i := start + 1; i < len(block); i++ {
		el := block[i]
		switch el.Op {
		case opcode.SilentFailsOn:
			depth++
			continue
		case opcode.SilentFailsOff:
			if depth == 0 {
				return i, true
			}
			depth--
			continue
		}
		if containsFailSensitiveOp(el) {
			return 0, false
		}
	}
	return 0, false
}

func containsFailSensitiveOp(el *bytecode.Element) bool {
	switch el.Op {
	case opcode.Call, opcode.Fail, opcode.Rule:
		return true
	}
	if el.IsConditional() {
		return blockHasFailSensitiveOp(el.Then) || blockHasFailSensitiveOp(el.Else)
	}
	if el.IsLoop() {
		return blockHasFailSensitiveOp(el.Body)
	}
	return false
}

func blockHasFailSensitiveOp(block bytecode.Block) bool {
	for _, el := range block {
		if containsFailSensitiveOp(el) {
			return true
		}
	}
	return false
}

// rewritePair applies one step of the producer/consumer elimination at
// index i (el) followed by next, returning whether it made a change. The
// actual splice is delegated to spliceOut and shrinkWrap.
func rewritePair(block *bytecode.Block, i int, el, next *bytecode.Element) bool {
	switch {
	case isBareProducer(el) && next.Op == opcode.Pop:
		spliceOut(block, i, 2)
		return true

	case isBareProducer(el) && next.Op == opcode.PopN && len(next.Args) == 1:
		n := next.Args[0]
		if n <= 0 {
			return false
		}
		if n == 1 {
			spliceOut(block, i, 2)
		} else {
			(*block)[i+1] = &bytecode.Element{Op: opcode.PopN, Args: []int{n - 1}}
			spliceOut(block, i, 1)
		}
		return true

	case el.Op == opcode.Wrap && next.Op == opcode.Pop:
		n := el.Args[0]
		shrinkWrap(block, i, n)
		return true

	case el.Op == opcode.Pluck && next.Op == opcode.Pop && len(el.Args) >= 2 && el.Args[1] == 1:
		// A PLUCK that inspects exactly one slot and whose single result is
		// then popped is equivalent to discarding the whole window.
		n := el.Args[0]
		(*block)[i] = &bytecode.Element{Op: opcode.PopN, Args: []int{n}}
		spliceOut(block, i+1, 1)
		return true
	}
	return false
}

// isBareProducer reports whether el produces exactly one new stack slot
// with no externally visible side effect other than that push, so removing
// it along with its sole consumer is safe.
func isBareProducer(el *bytecode.Element) bool {
	switch el.Op {
	case opcode.PushEmptyString, opcode.PushUndefined, opcode.PushNull,
		opcode.PushFailed, opcode.PushEmptyArray:
		return true
	default:
		return false
	}
}

// shrinkWrap rewrites a WRAP n whose result is immediately discarded into a
// POP_N n that drops the same slots without allocating the array, or drops
// it entirely if the discard count degenerates to zero.
func shrinkWrap(block *bytecode.Block, i, n int) {
	if n == 0 {
		spliceOut(block, i, 2)
		return
	}
	(*block)[i] = &bytecode.Element{Op: opcode.PopN, Args: []int{n}}
	spliceOut(block, i+1, 1)
}

// spliceOut removes length elements starting at i.
func spliceOut(block *bytecode.Block, i, length int) {
	*block = append((*block)[:i:i], (*block)[i+length:]...)
}
