// Command secretctl drives the classification pipeline from a shell.
package main

import (
	"fmt"
	"os"

	"github.com/yungbote/postsecret-pipeline/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
