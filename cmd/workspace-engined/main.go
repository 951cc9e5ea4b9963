// Command workspace-engined runs the workspace modeling engine's
// daemon: the DVU coordinator and action scheduler described in
// spec.md.
package main

import (
	"log"

	"github.com/systeminit/workspace-engine/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
