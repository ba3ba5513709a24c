package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/envieii/internal/channel"
	"github.com/soyeahso/envieii/internal/config"
	"github.com/soyeahso/envieii/internal/domain"
	"github.com/soyeahso/envieii/internal/events"
	"github.com/soyeahso/envieii/internal/events/kafkasink"
	"github.com/soyeahso/envieii/internal/gateway"
	"github.com/soyeahso/envieii/internal/orchestrator"
	"github.com/soyeahso/envieii/internal/session"
	"github.com/soyeahso/envieii/internal/transport"
)

func newServeCmd() *cobra.Command {
	var (
		users    []string
		embedded bool
		autoLink time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auto-responder against the signaling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closer, err := loadConfig()
			if err != nil {
				return err
			}
			defer closer.Close()

			if err := ensureClientToken(&cfg); err != nil {
				return err
			}
			if len(users) == 0 && cfg.Signaling.UserID != "" {
				users = []string{cfg.Signaling.UserID}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus := events.NewBus(log)
			logPairingEvents(bus)

			statusLog, db, err := openStatusLog(cfg.Store)
			if err != nil {
				return err
			}
			if statusLog != nil {
				defer db.Close()
				statusLog.Attach(bus)
				defer statusLog.Detach(bus)
				log.Info().Str("driver", db.Driver()).Msg("recording message statuses")
			}

			if k := cfg.Events.Kafka; k != nil {
				sink, err := kafkasink.New(kafkasink.Config{Brokers: k.Brokers, Topic: k.Topic, ClientID: k.ClientID}, log)
				if err != nil {
					return err
				}
				defer sink.Close()
				sink.Attach(bus)
				defer sink.Detach(bus)
				log.Info().Strs("brokers", k.Brokers).Str("topic", k.Topic).Msg("exporting events to kafka")
			}

			gen := newGenerator(cfg.OpenAI)
			if !gen.Connected() {
				log.Warn().Msg("no OpenAI API key configured, messages will fail until one is set")
			}

			g, gctx := errgroup.WithContext(ctx)

			if embedded {
				srv, err := startEmbeddedGateway(gctx, g, &cfg, gen, autoLink)
				if err != nil {
					return err
				}
				if err := waitListening(gctx, srv); err != nil {
					return err
				}
			}

			sess := transport.New(transport.Config{
				URL:   cfg.Signaling.URL,
				Token: cfg.Signaling.Token,
			}, nil, bus, log)
			wa := channel.NewWhatsApp(sess, bus, log, channel.WithPairingTimeout(cfg.Session.PairingTimeout()))
			orch := orchestrator.New(orchestrator.Deps{
				Transport: sess,
				Channel:   wa,
				Generator: gen,
				Sessions:  session.NewRegistry(bus, log),
				Bus:       bus,
				Log:       log,
			})
			if err := orch.Start(gctx); err != nil {
				return err
			}

			for _, u := range users {
				if err := orch.InitializeChannel(gctx, u); err != nil {
					log.Warn().Err(err).Str("userId", u).Msg("pairing request failed")
				}
			}
			sess.Connect()

			g.Go(func() error {
				return orch.RunCleanup(gctx, cfg.Session.CleanupInterval(), cfg.Session.IdleTimeout())
			})
			g.Go(func() error {
				<-gctx.Done()
				sess.Disconnect()
				orch.Stop()
				wa.Close()
				gen.Disconnect()
				return nil
			})

			log.Info().
				Str("signaling", cfg.Signaling.URL).
				Strs("users", users).
				Bool("embeddedGateway", embedded).
				Msg("envieii running")

			return g.Wait()
		},
	}

	cmd.Flags().StringSliceVar(&users, "user", nil, "pair this user on start (repeatable, default signaling.userId)")
	cmd.Flags().BoolVar(&embedded, "embedded-gateway", false, "also run the signaling server in this process")
	cmd.Flags().DurationVar(&autoLink, "mock-auto-link", 0, "with the mock provider, link users this long after the code is issued")

	return cmd
}

// ensureClientToken gives the dashboard a stable token, generating and
// saving one on first run.
func ensureClientToken(cfg *config.Config) error {
	if cfg.Signaling.Token != "" {
		return nil
	}
	token := "envieii_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	config.SetValueAtPath(raw, []string{"signaling", "token"}, token)
	if err := config.SaveRaw(paths.Config, raw); err != nil {
		return fmt.Errorf("saving generated token: %w", err)
	}
	cfg.Signaling.Token = token
	log.Info().Str("path", paths.Config).Msg("generated signaling token")
	return nil
}

func startEmbeddedGateway(ctx context.Context, g *errgroup.Group, cfg *config.Config, gen gateway.OpenAI, autoLink time.Duration) (*gateway.Server, error) {
	gw := cfg.Gateway
	if gw.Auth.Mode == gateway.AuthToken && gw.Auth.Token == "" {
		gw.Auth.Token = cfg.Signaling.Token
	}
	srv := gateway.New(gw, log, gateway.WithOpenAI(gen))
	prov, err := newProvider(gw, srv, autoLink)
	if err != nil {
		return nil, err
	}
	srv.UseProvider(prov)

	if cfg.Signaling.URL == config.DefaultSignalingURL {
		cfg.Signaling.URL = fmt.Sprintf("ws://127.0.0.1:%d/ws", gw.Port)
	}

	g.Go(func() error {
		defer prov.Close()
		return srv.Start(ctx)
	})
	return srv, nil
}

// waitListening blocks until srv has bound its port.
func waitListening(ctx context.Context, srv *gateway.Server) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for srv.Addr() == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func logPairingEvents(bus *events.Bus) {
	events.Subscribe(bus, "cli", func(_ context.Context, ev events.PairingCodeIssued) error {
		log.Info().Str("userId", ev.UserID).Str("code", ev.Code).Msg("scan this pairing code")
		return nil
	})
	events.Subscribe(bus, "cli", func(_ context.Context, ev events.ChannelReady) error {
		log.Info().Str("userId", ev.UserID).Str("sessionId", ev.SessionID).Msg("account linked")
		return nil
	})
	events.Subscribe(bus, "cli", func(_ context.Context, ev events.Error) error {
		if errors.Is(ev.Err, domain.ErrPairingTimeout) {
			log.Warn().Str("userId", ev.UserID).Msg("pairing code expired, restart pairing to get a new one")
			return nil
		}
		log.Error().Err(ev.Err).Str("source", ev.Source).Str("userId", ev.UserID).Msg("channel error")
		return nil
	})
	events.Subscribe(bus, "cli", func(_ context.Context, ev events.ReconnectionFailed) error {
		log.Error().Int("attempts", ev.Attempts).Str("lastError", ev.LastError).Msg("gave up reconnecting to the signaling server")
		return nil
	})
}
