package main

import (
	"os"

	"github.com/quarterhalt/cfddns/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
