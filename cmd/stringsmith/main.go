package main

import (
	"os"

	"loclab.gg/stringsmith/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
