package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/envieii/internal/gateway"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the signaling server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port     int
		bind     string
		autoLink time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the signaling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			gen := newGenerator(cfg.OpenAI)
			defer gen.Disconnect()

			srv := gateway.New(cfg.Gateway, log, gateway.WithOpenAI(gen))
			prov, err := newProvider(cfg.Gateway, srv, autoLink)
			if err != nil {
				return err
			}
			defer prov.Close()
			srv.UseProvider(prov)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")
	cmd.Flags().DurationVar(&autoLink, "mock-auto-link", 0, "with the mock provider, link users this long after the code is issued")

	return cmd
}
