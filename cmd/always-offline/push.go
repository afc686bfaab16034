package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/always-offline/config"
	"github.com/always-cache/always-offline/push"
	"github.com/always-cache/always-offline/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Run the Web Push server that registers subscriptions and broadcasts notifications.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		pushConfig := cfg.Push
		vapid := push.VAPID{
			PublicKey:  pushConfig.VAPID.PublicKey,
			PrivateKey: pushConfig.VAPID.PrivateKey,
			Subject:    pushConfig.VAPID.Subject,
		}
		if vapid.PublicKey == "" || vapid.PrivateKey == "" {
			return errors.New("VAPID keys are required, create them with the keys command")
		}
		pusher, err := push.NewWebPusher(push.WebPusherConfig{
			VAPID:   vapid,
			TTL:     pushConfig.TTLDuration(),
			Urgency: pushConfig.Urgency,
		})
		if err != nil {
			return err
		}

		registry, closeRegistry, err := openRegistry(pushConfig.Store)
		if err != nil {
			return err
		}
		defer closeRegistry()

		staticDir := pushConfig.Static
		if staticDir != "" && !server.StaticDirExists(staticDir) {
			log.Warn().Str("dir", staticDir).Msg("Static directory not found, serving no files")
			staticDir = ""
		}

		logger := log.Logger
		handler := server.New(server.Config{
			Registry: registry,
			Broadcaster: push.NewBroadcaster(push.BroadcasterConfig{
				Registry:    registry,
				Pusher:      pusher,
				Concurrency: pushConfig.Concurrency,
				PruneGone:   pushConfig.PruneGone,
				Logger:      &logger,
			}),
			VAPIDPublicKey: vapid.PublicKey,
			StaticDir:      staticDir,
			Logger:         &logger,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", pushConfig.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Info().Msgf("Push server running at http://localhost:%d", pushConfig.Port)
		return serve(srv)
	},
}

func openRegistry(s config.Store) (push.Registry, func() error, error) {
	if s.Provider == config.ProviderSQLite {
		registry, err := push.NewSQLiteRegistry(s.Path)
		if err != nil {
			return nil, nil, err
		}
		return registry, registry.Close, nil
	}
	return push.NewMemRegistry(), func() error { return nil }, nil
}
