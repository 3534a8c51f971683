package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/browserd/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: browserd <command> [options]

Commands:
  start         Start the browserd daemon
  stop          Stop the running daemon
  status        Show daemon status and active sessions
  keys          Manage secrets (list|set|delete <name>)
  init-config   Generate default config file
  version       Print version information
  help          Show this help message

Options:
  --foreground  Run in foreground (with 'start')
  --config      Path to config file (with 'start')`)
}
