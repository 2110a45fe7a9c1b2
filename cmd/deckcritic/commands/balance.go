package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/deckcritic/api/cmd/deckcritic/ui"
)

var balanceHistoryLimit int

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show your credit balance and recent transactions",
	RunE:  runBalance,
}

func init() {
	balanceCmd.Flags().IntVarP(&balanceHistoryLimit, "history", "n", 0, "Also show the last N transactions")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	cfg, err := loadCLIConfig()
	if err != nil {
		return err
	}

	_, _, _, api, err := buildPipeline(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	account, err := api.GetBalance(ctx)
	if err != nil {
		return err
	}

	ui.Section("Credits")
	ui.Info("Balance:      %d", account.CreditsBalance)
	ui.Info("Subscription: %d", account.SubscriptionCredits)
	ui.Info("Purchased:    %d", account.PurchasedCredits)

	if balanceHistoryLimit <= 0 {
		return nil
	}

	transactions, err := api.GetHistory(ctx, balanceHistoryLimit, 0)
	if err != nil {
		return err
	}

	ui.Section("Recent transactions")
	if len(transactions) == 0 {
		ui.Info("No transactions yet.")
		return nil
	}
	for _, tx := range transactions {
		sign := "+"
		if tx.Amount < 0 {
			sign = ""
		}
		ui.Info("%s  %s%d  %-22s %s", tx.CreatedAt.Format("2006-01-02 15:04"), sign, tx.Amount, tx.TransactionType, tx.Description)
	}
	return nil
}
