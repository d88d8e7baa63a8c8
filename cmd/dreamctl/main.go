// Command dreamctl runs operator tasks against the DreamSense backend:
// entitlement checks, credential checks, prompt updates and test tokens.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
