package main

import (
	"os"

	"github.com/0xd3bs/buysmart/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
