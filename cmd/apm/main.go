package main

import (
	"os"

	"github.com/apm-dev/apm/internal/cliapp"
)

func main() {
	os.Exit(cliapp.Execute())
}
