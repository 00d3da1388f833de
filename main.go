package main

import (
	"os"

	"github.com/vecsync/vecsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
