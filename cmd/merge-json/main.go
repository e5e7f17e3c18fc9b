package main

import (
	"os"

	"github.com/Fuabioo/jsonmerge/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteMerge())
}
