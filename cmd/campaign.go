package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chatrelay/convoengine/internal/campaign"
	"github.com/chatrelay/convoengine/internal/channel"
	"github.com/chatrelay/convoengine/internal/config"
	"github.com/chatrelay/convoengine/internal/store/pg"
)

func campaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Launch or cancel a bulk outbound campaign",
	}
	cmd.AddCommand(campaignLaunchCmd())
	cmd.AddCommand(campaignCancelCmd())
	return cmd
}

func loadCampaignEngine() (*campaign.Engine, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	stores, _, err := pg.NewPGStores(cfg.Database.DSN, cfg.APIKeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ch := channel.New(cfg.ChannelAPIURL, cfg.ChannelAPIToken,
		channel.NewRateLimiter(cfg.RateLimit.MessagesPerMinute, cfg.RateLimit.MessagesPerHour))
	return campaign.New(stores.Campaigns, ch, cfg.Campaign.SendDelay), nil
}

func campaignLaunchCmd() *cobra.Command {
	var tenant, message, targetsCSV string
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Launch a bulk outbound send to a list of targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" || message == "" || targetsCSV == "" {
				return fmt.Errorf("--tenant, --message, and --targets are required")
			}
			engine, err := loadCampaignEngine()
			if err != nil {
				return err
			}
			targets := strings.Split(targetsCSV, ",")
			job, err := engine.Launch(context.Background(), tenant, message, targets)
			if err != nil {
				return fmt.Errorf("launch campaign: %w", err)
			}
			fmt.Printf("campaign %s: %s (success=%d failure=%d skipped=%d)\n",
				job.ID, job.Status, job.SuccessCount, job.FailureCount, job.SkippedCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&message, "message", "", "message body")
	cmd.Flags().StringVar(&targetsCSV, "targets", "", "comma-separated recipient phone numbers")
	return cmd
}

func campaignCancelCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a running or pending campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return fmt.Errorf("--tenant is required")
			}
			engine, err := loadCampaignEngine()
			if err != nil {
				return err
			}
			if err := engine.Cancel(context.Background(), tenant, args[0]); err != nil {
				return fmt.Errorf("cancel campaign: %w", err)
			}
			fmt.Println("cancellation requested")
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id")
	return cmd
}
