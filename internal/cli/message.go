package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Try replies and inspect recorded messages",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageHistoryCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Generate the reply a customer would get for a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			if model != "" {
				cfg.OpenAI.Model = model
			}
			gen := newGenerator(cfg.OpenAI)
			defer gen.Disconnect()
			if !gen.Connected() {
				return fmt.Errorf("no OpenAI API key configured (set openai.apiKey or OPENAI_API_KEY)")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			reply, err := gen.Generate(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[model=%s took=%s]\n", gen.Status().Model, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "OpenAI model to use")
	return cmd
}

func newMessageHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <userId>",
		Short: "List the most recent finished messages for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			statusLog, db, err := openStatusLog(cfg.Store)
			if err != nil {
				return err
			}
			if statusLog == nil {
				return fmt.Errorf("the status log is disabled (store.driver is none)")
			}
			defer db.Close()

			msgs, err := statusLog.Recent(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no messages recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tSTATUS\tFROM\tMESSAGE\tREPLY / ERROR")
			for _, m := range msgs {
				detail := m.Reply
				if m.Error != "" {
					detail = m.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					m.Timestamp.Local().Format(time.DateTime), m.Status, m.From,
					truncate(m.Content, 40), truncate(detail, 60))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of messages to show")
	return cmd
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
