package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/gophsync/internal/cli"
)

func main() {
	root := cli.NewRootCommand(cli.Options{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
