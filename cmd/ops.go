package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/mapper"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/provider"
)

var (
	refundAmount string
	refundReason string
	lookupSync   bool
)

var refundCmd = &cobra.Command{
	Use:   "refund <payment-id>",
	Short: "Issue a full or partial refund for a MercadoPago payment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		req, err := buildRefundRequest(args[0], refundAmount, refundReason)
		if err != nil {
			return err
		}

		gw, cleanup := mustCreateGateway()
		defer cleanup()

		result, err := gw.payments.CreateRefund(context.Background(), req)
		if err != nil {
			logrus.WithError(err).WithField("payment_id", req.PaymentID).Error("Refund failed")
			return err
		}
		return printJSON(mapper.RefundToResponse(req.PaymentID, result))
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <payment-id>",
	Short: "Fetch a payment from MercadoPago and show its normalized status",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		paymentID := strings.TrimSpace(args[0])

		gw, cleanup := mustCreateGateway()
		defer cleanup()

		ctx := context.Background()
		if !lookupSync {
			lookup, err := gw.payments.GetPayment(ctx, paymentID)
			if err != nil {
				return err
			}
			return printJSON(mapper.PaymentToResponse(lookup.Details, lookup.Status, lookup.Stored))
		}

		lookup, applied, err := gw.payments.SyncPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"payment_id": paymentID,
			"status":     lookup.Status.String(),
			"applied":    applied,
		}).Info("Payment synced")
		return printJSON(mapper.PaymentToResponse(lookup.Details, lookup.Status, lookup.Stored))
	},
}

func init() {
	rootCmd.AddCommand(refundCmd)
	rootCmd.AddCommand(lookupCmd)

	refundCmd.Flags().StringVar(&refundAmount, "amount", "", "Partial refund amount; omit for a full refund")
	refundCmd.Flags().StringVar(&refundReason, "reason", "", "Refund reason stored as metadata")
	lookupCmd.Flags().BoolVar(&lookupSync, "sync", false, "Persist the fetched status")
}

func buildRefundRequest(paymentID, amount, reason string) (*provider.RefundRequest, error) {
	req := &provider.RefundRequest{
		PaymentID: strings.TrimSpace(paymentID),
		Reason:    strings.TrimSpace(reason),
	}
	if req.PaymentID == "" {
		return nil, fmt.Errorf("payment id is required")
	}

	amount = strings.TrimSpace(amount)
	if amount == "" {
		return req, nil
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid --amount %q: %w", amount, err)
	}
	if !value.IsPositive() {
		return nil, fmt.Errorf("--amount must be greater than zero")
	}
	req.Amount = &value
	return req, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
