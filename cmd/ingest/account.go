package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage target accounts",
}

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account that statements can be ingested into",
	Args:  cobra.NoArgs,
	RunE:  runAccountCreate,
}

var accountShowCmd = &cobra.Command{
	Use:   "show ACCOUNT_ID",
	Short: "Show an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		acct, err := a.Store.GetAccount(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get account %s: %w", args[0], err)
		}
		return printJSON(acct)
	},
}

var (
	accountID       string
	accountUserID   string
	accountName     string
	accountCurrency string
)

func init() {
	accountCreateCmd.Flags().StringVar(&accountID, "id", "", "Account ID (default: generated)")
	accountCreateCmd.Flags().StringVar(&accountUserID, "user", "", "Owning user ID (required)")
	accountCreateCmd.Flags().StringVar(&accountName, "name", "", "Display name")
	accountCreateCmd.Flags().StringVar(&accountCurrency, "currency", "", "ISO 4217 currency code (required)")
	_ = accountCreateCmd.MarkFlagRequired("user")
	_ = accountCreateCmd.MarkFlagRequired("currency")

	accountCmd.AddCommand(accountCreateCmd, accountShowCmd)
	rootCmd.AddCommand(accountCmd)
}

func runAccountCreate(cmd *cobra.Command, _ []string) error {
	if len(accountCurrency) != 3 {
		return fmt.Errorf("currency must be a three-letter code, got: %s", accountCurrency)
	}
	if accountID == "" {
		accountID = uuid.New().String()
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	acct := &domain.Account{
		ID:        accountID,
		UserID:    accountUserID,
		Name:      accountName,
		Currency:  strings.ToUpper(accountCurrency),
		CreatedAt: time.Now().UTC(),
	}
	if err := a.Store.CreateAccount(cmd.Context(), acct); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return printJSON(acct)
}
