package main

import (
	"os"

	"picprompter/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
