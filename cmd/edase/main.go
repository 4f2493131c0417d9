package main

import (
	"os"

	"github.com/conresinc/cloin.eda/cmd/edase/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
