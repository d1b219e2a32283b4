package main

import (
	"os"

	"github.com/fatih/color"

	"github.com/soyeahso/playground/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		color.New(color.FgHiRed).Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
