// Command tutorlogctl inspects transcripts and drives simulated sessions
// against a running tutorlog server.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/okian/tutorlog/internal/simulate"
)

// Exit codes for different failure modes
const (
	ExitSuccess      = 0 // Command succeeded
	ExitVerification = 1 // A simulated session did not round-trip
	ExitError        = 2 // Configuration, transport or API error
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, simulate.ErrVerification) {
			os.Exit(ExitVerification)
		}
		os.Exit(ExitError)
	}
}
