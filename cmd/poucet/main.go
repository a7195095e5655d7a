// Command poucet runs the community-onboarding bot: it connects to the chat
// platform gateway, loads per-guild configuration from redis, and drives the
// member verification workflow.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/transpouce/poucet/internal/config"
	"github.com/transpouce/poucet/internal/dispatch"
	"github.com/transpouce/poucet/internal/onboarding"
	"github.com/transpouce/poucet/internal/platform"
	"github.com/transpouce/poucet/internal/store"
	"github.com/transpouce/poucet/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "poucet",
		Short:         "Community onboarding bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and serve configured guilds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the poucet version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("poucet", version)
		},
	})

	if err := root.Execute(); err != nil {
		log.Fatalf("poucet: %v", err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Printf("poucet: run mode %s", cfg.RunMode)

	telemetry.Init(cfg.Telemetry.Enabled)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(ctx, cfg.RedisURL())
	if err != nil {
		return err
	}
	defer st.Close()
	log.Printf("poucet: connected to redis at %s", cfg.Redis.Address)

	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("creating gateway session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentGuildMembers

	api := platform.NewDiscord(session)
	engine := onboarding.New(st, api)
	dispatcher := dispatch.New(st, engine, api)

	b := newBot(session, dispatcher, cfg.RunMode == "dev")
	b.installHandlers()

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening gateway session: %w", err)
	}
	defer session.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return config.Watch(ctx, cfg)
	})
	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("poucet: shutting down")
	return nil
}
