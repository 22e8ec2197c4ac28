package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "serve":
		return runServe(args[1:])
	case "translate":
		return runTranslate(args[1:])
	case "memory":
		return runMemory(args[1:])
	case "keys":
		return runKeys(args[1:])
	case "score":
		return runScore(args[1:])
	case "daemon":
		return runDaemon(args[1:])
	case "version", "--version":
		return runVersion(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "stringsmith CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  stringsmith <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve      Start the HTTP translation service")
	fmt.Fprintln(os.Stderr, "  translate  Run one batch translation job from a file")
	fmt.Fprintln(os.Stderr, "  memory     Inspect, export or import a translation memory")
	fmt.Fprintln(os.Stderr, "  keys       Manage stored provider API keys")
	fmt.Fprintln(os.Stderr, "  score      Score a single source/translation pair")
	fmt.Fprintln(os.Stderr, "  daemon     Install or control the systemd service")
	fmt.Fprintln(os.Stderr, "  version    Print the build version")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"stringsmith <command> -h\" for command-specific flags.")
}
