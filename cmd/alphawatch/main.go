package main

import (
	"os"

	"alphawatch/cmd/alphawatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
