// Command shape-httpd runs the embedded HTTP server from a configuration
// file, and offers small helpers for inspecting HTTP messages.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/shapestone/shape-httpd/internal/fastparser"
	"github.com/shapestone/shape-httpd/internal/parser"
)

// set by the build
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

const usage = `usage: shape-httpd <command> [flags]

commands:
  serve     run the server (see: shape-httpd serve -h)
  inspect   print a raw HTTP request head or response as JSON
  version   print build information
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "serve":
		if err := serve(args[1:], stderr); err != nil {
			fmt.Fprintf(stderr, "shape-httpd: %v\n", err)
			return 1
		}
	case "inspect":
		if err := inspect(args[1:], stdout, stderr); err != nil {
			fmt.Fprintf(stderr, "shape-httpd: %v\n", err)
			return 1
		}
	case "version":
		fmt.Fprintf(stdout, "shape-httpd %s (commit %s, built %s, %s)\n", version, commit, buildDate, runtime.Version())
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "shape-httpd: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
	return 0
}

// inspect parses a captured request head or response and prints it as
// indented JSON. "-" reads standard input. With -lenient, malformed input
// is repaired where possible and the problems found are listed.
func inspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	lenient := fs.Bool("lenient", false, "Report problems instead of failing on malformed input")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("inspect: expected one file argument")
	}
	var (
		data []byte
		err  error
	)
	if name := fs.Arg(0); name == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return err
	}

	var out any
	if *lenient {
		d := fastparser.Diagnose(data)
		report := map[string]any{"warnings": d.Warnings, "partial": d.Partial}
		switch {
		case d.Head != nil:
			report["message"] = parser.ToInterface(parser.HeadToNode(d.Head, nil))
		case d.Response != nil:
			report["message"] = parser.ToInterface(parser.ResponseToNode(d.Response, nil))
		}
		out = report
	} else {
		node, err := parser.Parse(data)
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		out = parser.ToInterface(node)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
