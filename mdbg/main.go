package main

import (
	"fmt"
	"os"

	"mdbg.dev/cmd/internal/dbg"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mdbg <command>")
		fmt.Fprintln(os.Stderr, "Commands: debug, check-permissions, version")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "debug":
		dbg.RunDebug(os.Args[2:])
	case "check-permissions":
		dbg.RunCheckPermissions(os.Args[2:])
	case "version":
		fmt.Printf("mdbg %s (%s)\n", dbg.Version, dbg.ArchARM64)
	default:
		fmt.Fprintln(os.Stderr, "Unknown command:", os.Args[1])
		os.Exit(1)
	}
}
