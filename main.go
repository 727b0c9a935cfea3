package main

import (
	"os"

	"github.com/abhisek/learndebug/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
