package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ninebot-ops/vmboard/internal/app"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vmboard %s\n", version)
		return
	}

	a, err := app.New(*configPath, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vmboard: %v\n", err)
		os.Exit(1)
	}

	if err := a.Run(); err != nil {
		os.Exit(1)
	}
}
