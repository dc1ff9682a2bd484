/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the points ledger: runs the HTTP server and
  offers inspection and demo commands against the same store.

COMMANDS:
  serve              Start the HTTP API and the integrity auditor
  balance ACCOUNT    Print an account's balance
  history ACCOUNT    Print an account's entries, most recent first
  verify [ACCOUNT]   Check balance chains (one account or all)
  seed SCENARIO      Load a demo scenario

CONFIGURATION:
  --config points.toml, then POINTS_* environment variables, then
  command flags. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the auditor
  4. Close the store

EXAMPLES:
  ./server serve --config ./points.toml
  ./server serve --db ":memory:" --addr :3000
  POINTS_STORAGE_DRIVER=bolt POINTS_STORAGE_PATH=./data/points.bolt ./server serve
  ./server history user-1 --reason lesson_complete,quiz_score --limit 20
  ./server verify

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
