package main

import (
	"os"

	"fire-timelapse/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
