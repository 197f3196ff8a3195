package main

import (
	"os"

	"github.com/MrLemur/retcon/internal/commands"
)

func main() {
	os.Exit(commands.Execute())
}
