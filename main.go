package main

import (
	"fmt"
	"os"

	"github.com/maxelsson/habitkeep/backend"
	"github.com/maxelsson/habitkeep/frontend"
)

func main() {
	mode := "client"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "server":
		backend.RunBackend()
	case "client":
		frontend.RunFrontend()
	default:
		fmt.Printf("unknown mode %q: expected 'server' or 'client'\n", mode)
		os.Exit(1)
	}
}
