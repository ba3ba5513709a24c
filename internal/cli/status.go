package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/version"
)

func newStatusCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and message counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "envieii %s (commit %s)\n\n", version.Version, version.Commit)

			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n", paths.Data)
			fmt.Fprintf(out, "Logs:      %s\n", paths.Logs)
			fmt.Fprintln(out)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			token := "(generated on first serve)"
			if cfg.Signaling.Token != "" {
				token = "configured"
			}
			fmt.Fprintf(out, "Signaling: url=%s token=%s\n", cfg.Signaling.URL, token)
			fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s provider=%s\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.Provider)
			if irc := cfg.Gateway.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:       server=%s tls=%v\n", irc.Server, irc.UseTLS)
			}

			key := "missing"
			if cfg.OpenAI.APIKey != "" {
				key = "configured"
			}
			fmt.Fprintf(out, "OpenAI:    model=%s temperature=%.1f maxTokens=%d key=%s\n",
				cfg.OpenAI.Model, cfg.OpenAI.TemperatureOrDefault(), cfg.OpenAI.MaxTokens, key)
			fmt.Fprintf(out, "Sessions:  cleanup every %s, idle timeout %s, pairing timeout %s\n",
				cfg.Session.CleanupInterval(), cfg.Session.IdleTimeout(), cfg.Session.PairingTimeout())

			if k := cfg.Events.Kafka; k != nil {
				fmt.Fprintf(out, "Kafka:     brokers=%s topic=%s\n", strings.Join(k.Brokers, ","), k.Topic)
			}

			fmt.Fprintf(out, "Store:     driver=%s\n", cfg.Store.Driver)
			if cfg.Store.Driver != "none" {
				printCounts(cmd, cfg.Store, userID)
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "limit message counts to one user")
	return cmd
}

func printCounts(cmd *cobra.Command, cfg config.StoreConfig, userID string) {
	out := cmd.OutOrStdout()
	statusLog, db, err := openStatusLog(cfg)
	if err != nil {
		fmt.Fprintf(out, "Messages:  unavailable (%v)\n", err)
		return
	}
	defer db.Close()

	counts, err := statusLog.Counts(cmd.Context(), userID)
	if err != nil {
		fmt.Fprintf(out, "Messages:  unavailable (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Messages:  completed=%d failed=%d\n",
		counts[domain.StatusCompleted], counts[domain.StatusFailed])
}
