package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the gateway tables if they do not exist",
	Run: func(_ *cobra.Command, _ []string) {
		cfg := mustLoadConfig()
		db := mustOpenDatabase(cfg)
		defer func() {
			if err := db.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close database")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := repository.ApplySchema(ctx, db); err != nil {
			logrus.WithError(err).Fatal("Failed to apply schema")
		}
		logrus.WithField("statements", len(repository.SchemaStatements())).Info("Schema applied")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
