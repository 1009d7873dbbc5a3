package main

import (
	"flag"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/relay-for-me/AccountRelayAPI/internal/cmd"
	"github.com/relay-for-me/AccountRelayAPI/internal/config"
	"github.com/relay-for-me/AccountRelayAPI/internal/logging"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.toml")
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err = logging.SetLevel(cfg.Server.LogLevel); err != nil {
		log.Warnf("%v, keeping the default level", err)
	}
	if err = logging.ConfigureLogOutput(cfg.Server.LoggingToFile, cfg.Server.LogDir); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	log.Infof("starting account relay service (config: %s)", configPath)
	cmd.StartService(cfg, configPath)
}
