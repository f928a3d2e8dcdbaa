package main

import (
	"os"

	"github.com/tasktreehq/tt/cmd/tt/app"
)

func main() {
	os.Exit(app.Execute())
}
