package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"shd/internal/di"
	"shd/internal/structures"
)

func main() {
	flags := &structures.CliFlags{}
	flag.StringVarP(&flags.ConfigPath, "config", "c", "config.yaml", "path to the YAML config file")
	flag.BoolVarP(&flags.DebugMode, "debug", "d", false, "force debug logging")
	flag.Parse()

	if _, err := di.InitApp(flags); err != nil {
		fmt.Fprintf(os.Stderr, "shd: %v\n", err)
		os.Exit(1)
	}
}
