package main

import (
	"os"

	"github.com/tmakaro/requal/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
