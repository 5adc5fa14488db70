package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mattmacy/draid/internal/cobra"
	"github.com/mattmacy/draid/internal/config"
	"github.com/mattmacy/draid/internal/logger"
)

func main() {
	if err := logger.InitLogger(config.LogLevelInfo); err != nil {
		logrus.Fatalf("Error initializing logger: %v", err)
	}

	if err := cobra.ExecuteCmd(); err != nil {
		logrus.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
