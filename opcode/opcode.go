// Package opcode defines the PEG virtual machine's instruction set: the
// opcode enumeration, their names, and the arity/category rules the codec
// and interpreter need to walk a flat instruction stream.
//
// The numbering below is a compatibility boundary shared with the host VM
// and the code generator — it must never be reassigned once a value is in
// use.
package opcode

import "strconv"

// Op identifies a single PEG VM instruction.
type Op int

// The full instruction set, grouped by what each opcode does to the
// abstract stack. Values are part of the wire format; append new opcodes
// at the end.
const (
	// Push/const opcodes. Each pushes exactly one value of the kind named
	// by the opcode.
	PushEmptyString Op = iota
	PushCurrPos
	PushUndefined
	PushNull
	PushFailed
	PushEmptyArray

	// Stack manipulation.
	Pop
	PopN
	Nip
	Pluck
	Wrap
	Append
	Text

	// Position.
	PopCurrPos
	AcceptN
	AcceptString
	LoadSavedPos
	UpdateSavedPos

	// Failure.
	Fail
	SilentFailsOn
	SilentFailsOff

	// Invocation.
	Call
	Rule

	// Conditionals with no flag argument.
	If
	IfError
	IfNotError
	MatchAny

	// Conditionals with one flag argument.
	IfLt
	IfGe
	IfLtDynamic
	IfGeDynamic
	MatchString
	MatchStringIC
	MatchCharClass

	// Loop.
	WhileNotError

	// Source-map annotations: semantically inert, carried only so the
	// codec round-trips bytecode produced with source maps enabled.
	SourceMapPush
	SourceMapPop
	SourceMapLabelPush
	SourceMapLabelPop

	opMax
)

var names = [...]string{
	PushEmptyString:    "PUSH_EMPTY_STRING",
	PushCurrPos:        "PUSH_CURR_POS",
	PushUndefined:      "PUSH_UNDEFINED",
	PushNull:           "PUSH_NULL",
	PushFailed:         "PUSH_FAILED",
	PushEmptyArray:     "PUSH_EMPTY_ARRAY",
	Pop:                "POP",
	PopN:               "POP_N",
	Nip:                "NIP",
	Pluck:              "PLUCK",
	Wrap:               "WRAP",
	Append:             "APPEND",
	Text:               "TEXT",
	PopCurrPos:         "POP_CURR_POS",
	AcceptN:            "ACCEPT_N",
	AcceptString:       "ACCEPT_STRING",
	LoadSavedPos:       "LOAD_SAVED_POS",
	UpdateSavedPos:     "UPDATE_SAVED_POS",
	Fail:               "FAIL",
	SilentFailsOn:      "SILENT_FAILS_ON",
	SilentFailsOff:     "SILENT_FAILS_OFF",
	Call:               "CALL",
	Rule:               "RULE",
	If:                 "IF",
	IfError:            "IF_ERROR",
	IfNotError:         "IF_NOT_ERROR",
	MatchAny:           "MATCH_ANY",
	IfLt:               "IF_LT",
	IfGe:               "IF_GE",
	IfLtDynamic:        "IF_LT_DYNAMIC",
	IfGeDynamic:        "IF_GE_DYNAMIC",
	MatchString:        "MATCH_STRING",
	MatchStringIC:      "MATCH_STRING_IC",
	MatchCharClass:     "MATCH_CHAR_CLASS",
	WhileNotError:      "WHILE_NOT_ERROR",
	SourceMapPush:      "SOURCE_MAP_PUSH",
	SourceMapPop:       "SOURCE_MAP_POP",
	SourceMapLabelPush: "SOURCE_MAP_LABEL_PUSH",
	SourceMapLabelPop:  "SOURCE_MAP_LABEL_POP",
}

// String returns the canonical uppercase name of op, or a placeholder for
// out-of-range values.
func (op Op) String() string {
	if op >= 0 && int(op) < len(names) && names[op] != "" {
		return names[op]
	}
	return "OP(" + strconv.Itoa(int(op)) + ")"
}

// Valid reports whether op is a known opcode.
func (op Op) Valid() bool {
	return op >= 0 && op < opMax
}

var condArgCount0 = map[Op]bool{
	If: true, IfError: true, IfNotError: true, MatchAny: true,
}

var condArgCount1 = map[Op]bool{
	IfLt: true, IfGe: true, IfLtDynamic: true, IfGeDynamic: true,
	MatchString: true, MatchStringIC: true, MatchCharClass: true,
}

// IsConditional reports whether op introduces a two-block conditional
// element.
func IsConditional(op Op) bool {
	return condArgCount0[op] || condArgCount1[op]
}

// IsLoop reports whether op introduces a one-block loop element.
func IsLoop(op Op) bool {
	return op == WhileNotError
}

// ConditionalArgCount returns the number of flag arguments (0 or 1) a
// conditional opcode carries ahead of its two child blocks. It panics if op
// is not a conditional opcode — callers must check IsConditional first.
func ConditionalArgCount(op Op) int {
	switch {
	case condArgCount0[op]:
		return 0
	case condArgCount1[op]:
		return 1
	default:
		panic("opcode: ConditionalArgCount called on non-conditional op " + op.String())
	}
}

// variableArity marks opcodes whose flat-encoding length depends on an
// argument value rather than being fixed. The codec reads the relevant
// count argument to determine how many words to consume.
var variableArity = map[Op]bool{
	Pluck:              true,
	Call:               true,
	AcceptString:       true,
	SourceMapLabelPush: true,
}

// IsVariableArity reports whether op's flat argument count depends on a
// leading count argument rather than being fixed by the opcode alone.
func IsVariableArity(op Op) bool {
	return variableArity[op]
}

// FixedArity gives the argument count (excluding the opcode itself and,
// for conditionals, the two length-prefix words) for every opcode whose
// arity doesn't depend on a runtime count. It is consulted by the codec for
// every opcode not covered by IsVariableArity, IsConditional or IsLoop.
var FixedArity = map[Op]int{
	PushEmptyString: 0,
	PushCurrPos:     0,
	PushUndefined:   0,
	PushNull:        0,
	PushFailed:      0,
	PushEmptyArray:  0,
	Pop:             0,
	PopN:            1,
	Nip:             0,
	Wrap:            1,
	Append:          0,
	Text:            0,
	PopCurrPos:      0,
	AcceptN:         1,
	LoadSavedPos:    1,
	UpdateSavedPos:  0,
	Fail:            1,
	SilentFailsOn:   0,
	SilentFailsOff:  0,
	Rule:            1,
	SourceMapPush:   0,
	SourceMapPop:    0,
	SourceMapLabelPop: 0,
}

// IsSlotKiller reports whether op discards one or more stack slots without
// inspecting their value — the peephole rules' "discard" category (POP,
// POP_N, NIP).
func IsSlotKiller(op Op) bool {
	return op == Pop || op == PopN || op == Nip
}

// ReadsCurrPos reports whether op's transfer function reads the live
// currPos value, used by the dead-POP_CURR_POS rule to find the next
// instruction that would observe a stale currPos.
func ReadsCurrPos(op Op) bool {
	switch op {
	case PushCurrPos, AcceptN, AcceptString, LoadSavedPos, UpdateSavedPos, Call, Rule:
		return true
	default:
		return false
	}
}
