package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-payment-gateway/config"
)

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Log.Level, err)
	}

	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	return nil
}
