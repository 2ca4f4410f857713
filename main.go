package main

import (
	"os"

	"github.com/ravidnaor/corrobot/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
