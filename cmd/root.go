package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payment-gateway",
	Short: "MercadoPago payment gateway service",
	Long:  "A payment gateway service for MercadoPago checkout preferences, payment lookups, refunds and webhook notifications.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
