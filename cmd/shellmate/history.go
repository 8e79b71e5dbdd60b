package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored conversations, newest first",
		Long:  "Lists stored conversations. Continue one with 'shellmate chat --resume <id>'.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			convs, err := store.ListConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(convs) == 0 {
				fmt.Println("No conversations yet.")
				return nil
			}
			for _, c := range convs {
				fmt.Printf("%s  %-14s  %s\n", c.ID, humanize.Time(c.CreatedAt), c.Title)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of conversations to show")
	return cmd
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent consent and policy decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.RecentAudit(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("The audit log is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%s  %-18s %-9s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Action, e.Result, e.Subject)
				if e.Details != "" {
					fmt.Printf("    %s\n", e.Details)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries to show")
	return cmd
}
