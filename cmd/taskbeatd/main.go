package main

import (
	"github.com/rs/zerolog/log"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("taskbeatd")
	}
}
