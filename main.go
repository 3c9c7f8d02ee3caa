package main

import (
	"github.com/lucasew/mise-gettext-builder/cmd"
	"github.com/lucasew/mise-gettext-builder/pkg/logger"
)

var version = "1.0.0"

func main() {
	if err := cmd.Execute(version); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
