// Command sctdemo runs the seeded scenarios (§8 "Testable properties")
// against the engine and prints the outcome set each one reaches,
// exercising the public sct package exactly the way a caller would.
//
// Usage:
//
//	sctdemo list                 # show every scenario
//	sctdemo run <name> [model]   # explore one scenario under sc|tso|pso (default sc)
//	sctdemo run-all [model]      # explore every scenario
//	sctdemo version
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/kolkov/sct/memmodel"
	"github.com/kolkov/sct/sct"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch command := os.Args[1]; command {
	case "list":
		listCommand()
	case "run":
		runCommand(os.Args[2:])
	case "run-all":
		runAllCommand(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("sctdemo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`sctdemo - seeded-scenario runner for the sct engine

USAGE:
    sctdemo <command> [arguments]

COMMANDS:
    list               Show every seeded scenario
    run <name> [model]    Explore one scenario (model: sc, tso, pso; default sc)
    run-all [model]       Explore every scenario
    version            Show version information
    help               Show this help message

EXAMPLES:
    sctdemo list
    sctdemo run store-buffering tso
    sctdemo run-all pso

`)
}

func listCommand() {
	sorted := append([]scenario(nil), scenarios...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })
	for _, s := range sorted {
		fmt.Printf("%-18s %s\n", s.name, s.summary)
	}
}

func parseMemType(args []string, idx int) (memmodel.Type, error) {
	if idx >= len(args) {
		return memmodel.SC, nil
	}
	switch args[idx] {
	case "sc":
		return memmodel.SC, nil
	case "tso":
		return memmodel.TSO, nil
	case "pso":
		return memmodel.PSO, nil
	default:
		return memmodel.SC, fmt.Errorf("unknown memory model %q (want sc, tso, or pso)", args[idx])
	}
}

func findScenario(name string) *scenario {
	for i := range scenarios {
		if scenarios[i].name == name {
			return &scenarios[i]
		}
	}
	return nil
}

func runCommand(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Error: 'run' requires a scenario name")
		os.Exit(1)
	}
	s := findScenario(args[0])
	if s == nil {
		fmt.Fprintf(os.Stderr, "Error: unknown scenario %q\n", args[0])
		os.Exit(1)
	}
	memType, err := parseMemType(args, 1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	explore(*s, memType)
}

func runAllCommand(args []string) {
	memType, err := parseMemType(args, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, s := range scenarios {
		explore(s, memType)
		fmt.Println()
	}
}

func explore(s scenario, memType memmodel.Type) {
	fmt.Printf("=== %s (%s) ===\n", s.name, memType)
	results, err := sct.Run(context.Background(), s.program, sct.WithMemType(memType))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, r := range results {
		if r.Outcome.Failed() {
			fmt.Printf("  %s: %v\n", r.Outcome.Kind(), r.Outcome.Err)
			continue
		}
		fmt.Printf("  success: %#v\n", r.Outcome.Value)
	}
	fmt.Printf("(%d outcome(s))\n", len(results))
}
