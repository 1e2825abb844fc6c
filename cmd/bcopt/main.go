// Command bcopt runs the peephole/dataflow optimizer over a single rule's
// flat bytecode read from a JSON document. It never parses a PEG grammar
// itself — that remains an external collaborator's job.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/32bitkid/bcopt/bytecode"
	"github.com/32bitkid/bcopt/grammar"
	"github.com/32bitkid/bcopt/optimizer"
)

// program is the on-disk JSON shape bcopt reads: a single rule's flat
// bytecode plus the optional static hint table for every rule it may
// call.
type program struct {
	Rule     string         `json:"rule"`
	Bytecode []int          `json:"bytecode"`
	Hints    map[string]int `json:"hints"`
}

func main() {
	var (
		dbgFlag      = flag.Bool("debug", false, "print a before/after trace of the optimization")
		shortHelp    = flag.Bool("h", false, "show help page")
		longHelp     = flag.Bool("help", false, "show help page")
		outputFlag   = flag.String("o", "", "output file, defaults to stdout")
		noDeadSlot   = flag.Bool("skip-dead-slot", false, "run only the peephole pass, skip the dataflow pass")
		dumpTreeFlag = flag.Bool("dump-tree", false, "stop after formatting the bytecode tree, do not flatten or optimize")
	)
	flag.Usage = usage
	flag.Parse()

	if *shortHelp || *longHelp {
		flag.Usage()
		os.Exit(0)
	}
	if flag.NArg() > 1 {
		argError(1, "expected one argument, got %q", strings.Join(flag.Args(), " "))
	}

	infile := ""
	if flag.NArg() == 1 {
		infile = flag.Arg(0)
	}
	nm, rc := input(infile)
	defer rc.Close()

	var p program
	dec := json.NewDecoder(rc)
	if err := dec.Decode(&p); err != nil {
		fmt.Fprintf(os.Stderr, "%s: malformed input: %v\n", nm, err)
		os.Exit(3)
	}

	out := output(*outputFlag)
	defer out.Close()

	if *dumpTreeFlag {
		tree, err := bytecode.Format(p.Rule, p.Bytecode)
		if err != nil {
			fmt.Fprintln(os.Stderr, "format error:", err)
			os.Exit(5)
		}
		optimizer.Print(out, p.Rule, tree, tree)
		return
	}

	hints := make(grammar.StaticHints, len(p.Hints))
	for rule, v := range p.Hints {
		hints[rule] = grammar.Hint(v)
	}

	opts := []optimizer.Option{optimizer.WithHints(hints)}
	if *noDeadSlot {
		opts = append(opts, optimizer.SkipDeadSlot(true))
	}
	if *dbgFlag {
		opts = append(opts, optimizer.WithLog(os.Stderr))
	}

	result, err := optimizer.Optimize(p.Rule, p.Bytecode, nil, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "optimize error:", err)
		os.Exit(6)
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(os.Stderr, "write error:", err)
		os.Exit(7)
	}
}

var usagePage = `usage: %s [options] [BYTECODE_FILE]

bcopt runs the peephole and dead-slot optimization passes over one rule's
flat PEG virtual machine bytecode, read as a JSON document of the form:

	{"rule": "Expr", "bytecode": [...], "hints": {"Expr": 1, "Digit": 0}}

By default, bcopt reads the document from stdin and writes the optimized
flat bytecode, as a JSON array, to stdout. If BYTECODE_FILE is specified,
the document is read from this file instead. If the -o flag is set, the
result is written to this file instead.

	-debug
		print a before/after trace of the optimization to stderr.
	-dump-tree
		stop after formatting the bytecode into its tree form; print it
		and exit without optimizing or flattening.
	-h -help
		display this help message.
	-o OUTPUT_FILE
		write the result to OUTPUT_FILE. Defaults to stdout.
	-skip-dead-slot
		run only the peephole pass, skip the dataflow pass.
`

// usage prints the help page of the command-line tool.
func usage() {
	fmt.Printf(usagePage, os.Args[0])
}

// argError prints an error message to stderr, prints the command usage
// and exits with the specified exit code.
func argError(exit int, msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg, args...)
	fmt.Fprintln(os.Stderr)
	flag.Usage()
	os.Exit(exit)
}

// input gets the name and reader to get input text from.
func input(filename string) (nm string, rc io.ReadCloser) {
	nm = "stdin"
	inf := os.Stdin
	if filename != "" {
		f, err := os.Open(filename)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		inf = f
		nm = filename
	}
	r := bufio.NewReader(inf)
	return nm, makeReadCloser(r, inf)
}

// output gets the writer to write the result to.
func output(filename string) io.WriteCloser {
	out := os.Stdout
	if filename != "" {
		f, err := os.Create(filename)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(4)
		}
		out = f
	}
	return out
}

func makeReadCloser(r io.Reader, c io.Closer) io.ReadCloser {
	rc := struct {
		io.Reader
		io.Closer
	}{r, c}
	return io.ReadCloser(rc)
}
