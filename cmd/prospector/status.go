package main

import (
	"os"

	"github.com/alvmarrod/lead-weaver/internal/budget"
	"github.com/alvmarrod/lead-weaver/internal/checkpoint"
	"github.com/alvmarrod/lead-weaver/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the saved checkpoint and today's search usage",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ledger, err := budget.Open(cfg.Budget.LedgerPath, cfg.Budget.DailyLimit)
			if err != nil {
				return err
			}
			cp, err := checkpoint.NewStore(cfg.Checkpoint.Path).Load()
			if err != nil {
				logrus.Warnf("Checkpoint unreadable, the next run starts fresh: %v", err)
				cp = checkpoint.Fresh()
			}

			renderStatus(os.Stdout, cp, ledger.Snapshot(), ledger.Limit(), storedContacts(cfg.Output.SQLitePath))
			return nil
		},
	}
}

// storedContacts counts rows in the results database, or -1 when there is none yet
func storedContacts(path string) int {
	if _, err := os.Stat(path); err != nil {
		return -1
	}
	store, err := storage.NewStorage(path)
	if err != nil {
		logrus.Warnf("Results database unreadable: %v", err)
		return -1
	}
	defer store.Close()

	n, err := store.CountContacts()
	if err != nil {
		logrus.Warnf("Failed to count stored contacts: %v", err)
		return -1
	}
	return n
}

func newResetCommand() *cobra.Command {
	var resetLedger bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard the saved checkpoint so the next run starts fresh",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			store := checkpoint.NewStore(cfg.Checkpoint.Path)
			if err := store.Reset(); err != nil {
				return err
			}
			logrus.Infof("Checkpoint %s removed", store.Path())

			if resetLedger {
				ledger, err := budget.Open(cfg.Budget.LedgerPath, cfg.Budget.DailyLimit)
				if err != nil {
					return err
				}
				if err := ledger.Reset(); err != nil {
					return err
				}
				logrus.Warnf("Search ledger %s reset: the provider may still enforce its own daily quota", cfg.Budget.LedgerPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&resetLedger, "ledger", false, "also zero today's search count")
	return cmd
}
