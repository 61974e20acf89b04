package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/kursadbilgin/bulkjob-engine/internal/domain"
	infraredis "github.com/kursadbilgin/bulkjob-engine/internal/infra/redis"
	"github.com/kursadbilgin/bulkjob-engine/internal/repository"
	"github.com/spf13/cobra"
)

func newFlagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Manage messaging channel switches",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print which delivery channels are enabled",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openSession(false)
				if err != nil {
					return err
				}
				defer s.close()

				flags, err := repository.NewGormFlagRepo(s.db).Load(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to load flags: %w", err)
				}
				renderFlags(cmd.OutOrStdout(), flags)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <channel> <on|off>",
			Short: "Enable or disable a delivery channel and notify workers",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				channel, err := parseMessagingChannel(args[0])
				if err != nil {
					return err
				}
				enabled, err := parseSwitch(args[1])
				if err != nil {
					return err
				}

				s, err := openSession(true)
				if err != nil {
					return err
				}
				defer s.close()

				if err := repository.NewGormFlagRepo(s.db).Set(cmd.Context(), channel, enabled); err != nil {
					return fmt.Errorf("failed to update %s: %w", channel, err)
				}

				notifier, err := infraredis.NewFlagNotifier(s.rdb, s.logger)
				if err != nil {
					return err
				}
				receivers, err := notifier.Invalidate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s, %d worker(s) notified\n", channel, args[1], receivers)
				return nil
			},
		},
		&cobra.Command{
			Use:   "invalidate",
			Short: "Ask every worker to reload its messaging flags",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openSession(true)
				if err != nil {
					return err
				}
				defer s.close()

				notifier, err := infraredis.NewFlagNotifier(s.rdb, s.logger)
				if err != nil {
					return err
				}
				receivers, err := notifier.Invalidate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d worker(s) notified\n", receivers)
				return nil
			},
		},
	)

	return cmd
}

func parseMessagingChannel(raw string) (domain.DeliveryChannel, error) {
	channel, err := domain.ParseDeliveryChannelFromString(raw)
	if err != nil {
		return "", err
	}
	if channel == domain.ChannelNone {
		return "", fmt.Errorf("%w: channel NONE has no switch", domain.ErrValidation)
	}
	return channel, nil
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "true", "enable", "enabled":
		return true, nil
	case "off", "false", "disable", "disabled":
		return false, nil
	default:
		return false, fmt.Errorf("%w: expected on or off, got %q", domain.ErrValidation, raw)
	}
}

func renderFlags(w io.Writer, flags domain.MessagingFlags) {
	for _, ch := range []domain.DeliveryChannel{domain.ChannelSMS, domain.ChannelWhatsApp, domain.ChannelEmail} {
		state := "off"
		if flags.Enabled(ch) {
			state = "on"
		}
		fmt.Fprintf(w, "%-9s %s\n", ch, state)
	}
}
