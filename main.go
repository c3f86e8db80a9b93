package main

import (
	"os"

	"github.com/conneroisu/devbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
