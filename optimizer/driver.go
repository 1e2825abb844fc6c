package optimizer

import (
	"fmt"

	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/deadslot"
	"github.com/32bitkid/bcopt/interp"
	"github.com/32bitkid/bcopt/peephole"
)

// Optimize runs the peephole and dead-slot passes over rule's flat
// bytecode to a joint fixpoint and returns the optimized flat form. If
// nothing changes, the original flat slice is returned unmodified.
// RuleNames, when non-nil, resolves a RULE instruction's
// string-table argument to the callee's name for hint lookups; the CLI
// driver in cmd/bcopt leaves it nil since it optimizes one rule in
// isolation, without the full grammar's rule table.
func Optimize(rule string, flat []int, ruleNames []string, opts ...Option) ([]int, error) {
	cfg := newConfig(opts)
	if cfg.OutputMode != SourceOnly {
		return flat, nil
	}

	tree, err := bytecode.Format(rule, flat)
	if err != nil {
		return nil, err
	}
	if err := bytecode.Validate(rule, tree); err != nil {
		return nil, err
	}

	before := cloneForPrint(tree)
	changed, err := fixpoint(rule, &tree, ruleNames, cfg)
	if err != nil {
		return nil, err
	}

	if !changed {
		return flat, nil
	}

	if cfg.Log != nil {
		fmt.Fprintf(cfg.Log, "rule %s: optimized\n", rule)
		Print(cfg.Log, rule, before, tree)
	}

	return bytecode.Flatten(rule, tree)
}

// fixpoint alternates the peephole visitor pass and the dead-slot pass
// until a round produces no change from either, capped by
// cfg.MaxIterations.
func fixpoint(rule string, tree *bytecode.Block, ruleNames []string, cfg *Config) (bool, error) {
	anyChange := false
	for i := 0; i < cfg.MaxIterations; i++ {
		s := interp.New(rule, cfg.Hints, peephole.Hooks())
		s.RuleNames = ruleNames

		peepChanged, _, err := s.Run(tree)
		if err != nil {
			return false, err
		}

		slotChanged := false
		if !cfg.SkipDeadSlot {
			slotChanged, err = deadslot.Run(tree)
			if err != nil {
				return false, err
			}
		}

		if peepChanged || slotChanged {
			anyChange = true
			continue
		}
		break
	}
	return anyChange, nil
}

func cloneForPrint(tree bytecode.Block) bytecode.Block {
	return tree.Clone()
}
