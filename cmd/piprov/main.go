package main

import (
	"os"

	"github.com/yoanbernabeu/piprov/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
