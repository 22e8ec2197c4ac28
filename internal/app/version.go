package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
)

// Version is stamped at build time via
// -ldflags "-X loclab.gg/stringsmith/internal/app.Version=v1.2.3".
var Version = "dev"

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	fmt.Printf("stringsmith %s %s/%s\n", Version, runtime.GOOS, runtime.GOARCH)
	return 0
}
