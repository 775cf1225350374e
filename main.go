/*
Copyright © 2026 Ajoux <ajoux@posteo.net>
*/

package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	releaseVersion = "0.4.1"
)

func main() {
	log.SetFlags(0)

	// A .env next to the binary is a convenience for bare-metal deploys;
	// a missing file is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
