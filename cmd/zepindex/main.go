// Command zepindex runs the event index service.
package main

import (
	"os"

	"github.com/zenoss/zenoss-zep-sub000/cmd/zepindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
