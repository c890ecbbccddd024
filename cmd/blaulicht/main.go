// Command blaulicht is the pipeline's CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/3leaps/blaulicht/internal/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cmd.ExitCode(err))
}
