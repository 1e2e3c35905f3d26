package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/fathoni/rudder/internal/cli"
)

func main() {
	// Missing .env is fine; config falls back to real environment variables
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
