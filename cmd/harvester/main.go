package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp(os.Stdout).rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
