package main

import (
	"fmt"
	"os"

	"kasirinaja/pos/internal/terminal"
)

func main() {
	if err := terminal.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
