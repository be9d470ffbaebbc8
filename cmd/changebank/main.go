package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dgellow/changebank/internal"
	"github.com/dgellow/changebank/internal/config"
	"github.com/dgellow/changebank/internal/log"
)

var BuildVersion = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("changebank %s\n", BuildVersion)
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.LogError("Configuration error: %v", err)
		os.Exit(1)
	}

	app, err := internal.NewChangebank(cfg)
	if err != nil {
		log.LogError("Failed to build application: %v", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		log.LogError("Application error: %v", err)
		os.Exit(1)
	}
}
