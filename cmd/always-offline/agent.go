package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	alwaysoffline "github.com/always-cache/always-offline"
	"github.com/always-cache/always-offline/cache"
	"github.com/always-cache/always-offline/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	originFlag string
	hostFlag   string
	portFlag   int
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the offline cache agent as a proxy in front of an origin.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		agentConfig := cfg.Agent
		originURL := agentConfig.OriginURL()
		if originFlag != "" {
			u, err := url.Parse(originFlag)
			if err != nil {
				return fmt.Errorf("could not parse origin: %w", err)
			}
			originURL = u
		}
		if originURL == nil {
			return errors.New("please specify origin")
		}
		if hostFlag != "" {
			agentConfig.Host = hostFlag
		}
		if portFlag != 0 {
			agentConfig.Port = portFlag
		}

		store, err := openStore(agentConfig.Store)
		if err != nil {
			return err
		}
		defer store.Close()

		logger := log.Logger
		agent, err := alwaysoffline.CreateAgent(alwaysoffline.Config{
			Version:        agentConfig.Version,
			Cache:          store,
			OriginURL:      *originURL,
			OriginHost:     agentConfig.Host,
			NetworkTimeout: agentConfig.Timeout(),
			Precache:       agentConfig.Precache,
			ApiPrefixes:    agentConfig.ApiPrefixes,
			Strategy: alwaysoffline.StrategyConfig{
				RootDocument:    agentConfig.RootDocument,
				OfflineDocument: agentConfig.OfflineDocument,
				FallbackImage:   agentConfig.FallbackImage,
			},
			Logger: &logger,
		})
		if err != nil {
			return err
		}
		defer agent.Close()

		// requests pass through to the origin until the agent is activated
		go func() {
			if err := agent.Start(context.Background()); err != nil {
				log.Error().Err(err).Msg("Agent did not activate")
			}
		}()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", agentConfig.Port),
			Handler:           agent,
			ReadHeaderTimeout: 10 * time.Second,
		}
		log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", agentConfig.Port, originURL.String(), agentConfig.Host)
		return serve(srv)
	},
}

func init() {
	agentCmd.Flags().StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides agent.origin)")
	agentCmd.Flags().StringVar(&hostFlag, "host", "", "Hostname of origin")
	agentCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (overrides agent.port)")
}

func openStore(s config.Store) (cache.CacheStore, error) {
	switch s.Provider {
	case config.ProviderSQLite:
		return cache.NewSQLiteCache(s.Path)
	case config.ProviderLevelDB:
		return cache.NewLevelDBCache(s.Path)
	default:
		return cache.NewMemCache(), nil
	}
}
