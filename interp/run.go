package interp

import (
	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/value"
)

// Run drives one block, dispatching pre/post visitor hooks around each
// element's transfer function and applying any in-place rewrites they or
// the interpreter itself perform. It returns whether anything changed and
// the last element's CondState, for the caller's own conditional-fusion
// bookkeeping.
func (s *State) Run(block *bytecode.Block) (changed bool, lastCond *CondState, err error) {
	if s.Looping == 0 && s.Hooks != nil && s.Hooks.PreRun != nil {
		s.Hooks.PreRun(s, block)
	}

	ip := 0
	for ip < len(*block) {
		if s.Looping == 0 && s.Hooks != nil && s.Hooks.PreInterp != nil {
			ch, err := s.Hooks.PreInterp(s, block, ip)
			if err != nil {
				return false, nil, err
			}
			if ch {
				changed = true
			}
		}
		if ip >= len(*block) {
			break
		}

		res, err := s.interp(block, ip)
		if err != nil {
			return false, nil, err
		}
		if res.Changed {
			changed = true
		}

		// A collapsed conditional or removed dead loop resumes at ip without
		// having interpreted anything there, so PostInterp is skipped.
		if s.Looping == 0 && s.Hooks != nil && s.Hooks.PostInterp != nil && res.NextIP > ip {
			ch, nextIP, err := s.Hooks.PostInterp(s, block, ip, res)
			if err != nil {
				return false, nil, err
			}
			if ch {
				changed = true
				res.NextIP = nextIP
			}
		}

		lastCond = res.Cond
		ip = res.NextIP
	}

	if s.Looping == 0 && s.Hooks != nil && s.Hooks.PostRun != nil {
		s.Hooks.PostRun(s, block)
	}
	return changed, lastCond, nil
}

// interpLoop kills a loop whose guard is already known failed, otherwise
// iterates the body to a fixpoint with rewrites suppressed, then runs it
// once more at Looping==0 to realize them.
func (s *State) interpLoop(block *bytecode.Block, ip int) (InterpResult, error) {
	el := (*block)[ip]
	top, err := s.Peek(0)
	if err != nil {
		return InterpResult{}, err
	}
	if value.MustBe(top, value.Failed) {
		*block = spliceBlock(*block, ip, 1, nil)
		return InterpResult{NextIP: ip, Changed: true}, nil
	}

	s.Looping++
	saved := s.Clone()
	for i := 0; i < maxLoopFixpointIterations; i++ {
		cur := saved.Clone()
		if _, _, err := cur.Run(&el.Body); err != nil {
			s.Looping--
			return InterpResult{}, err
		}
		if err := cur.merge(saved); err != nil {
			s.Looping--
			return InterpResult{}, err
		}
		if cur.Equal(saved) {
			saved = cur
			break
		}
		saved = cur
	}
	// Non-convergence within the cap is a safety net, not a fatal error:
	// fall through using the last computed widening.
	*s = *saved
	s.Looping--

	changed, cond, err := s.Run(&el.Body)
	if err != nil {
		return InterpResult{}, err
	}
	_ = cond // a loop body's trailing CondState isn't meaningful to the caller
	return InterpResult{NextIP: ip + 1, Changed: changed}, nil
}

// maxLoopFixpointIterations is a safety cap on the loop fixpoint: the
// lattice is finite so the fixpoint always converges for well-formed
// input, but a cap turns a pathological or malformed program into a
// non-fatal fallthrough with the last computed state instead of an
// infinite loop.
const maxLoopFixpointIterations = 4096
