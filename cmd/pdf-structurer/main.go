package main

import (
	"fmt"
	"os"

	"github.com/spherical-ai/spherical/libs/pdf-structurer/cmd/pdf-structurer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
