// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"vale/internal/auth"
	"vale/internal/bridge"
	"vale/internal/logger"
	"vale/internal/pubsub"
)

var (
	bridgeConfigPath string
	bridgeAddress    string
	bridgeRedisURL   string
	bridgeDebugFlag  bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Start the Vale device bridge daemon",
	Long: `The Vale bridge terminates device WebSocket connections, authenticates
them with signed credentials, forwards native action requests from the bus to
the matching device and republishes device results. It also pushes vitals
notifications and evicts idle connections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadBridgeConfiguration()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger.SetSilentMode(false)
		if bridgeDebugFlag {
			logger.SetLevel("debug")
		} else {
			logger.SetLevel(config.Logging.Level)
		}

		log := logger.New()
		log.Info().
			Str("config_file", bridgeConfigPath).
			Str("address", config.Server.Address).
			Str("redis_url", config.Redis.URL).
			Str("log_level", config.Logging.Level).
			Msg("Starting Vale bridge daemon")

		bus, err := pubsub.NewRedisBus(config.Redis.URL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create Redis bus")
			return fmt.Errorf("failed to create redis bus: %w", err)
		}
		defer bus.Close()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if err := bus.Ping(pingCtx); err != nil {
			log.Error().Err(err).Msg("Redis is not reachable")
			return err
		}

		verifier := auth.NewTokenService(config.Auth.Secret, config.Auth.Issuer, 24*time.Hour)
		server := bridge.NewServer(config, bus, verifier)

		var wg sync.WaitGroup
		errChan := make(chan error, 1)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Start(); err != nil {
				errChan <- fmt.Errorf("bridge server error: %w", err)
			}
		}()

		// Handle graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
		case err := <-errChan:
			log.Error().Err(err).Msg("Service error")
			return err
		}

		log.Info().Msg("Shutting down bridge")

		if err := server.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping bridge server")
		}

		wg.Wait()
		log.Info().Msg("Bridge daemon stopped")
		return nil
	},
}

// loadBridgeConfiguration loads the config file and applies CLI flag overrides
func loadBridgeConfiguration() (*bridge.Config, error) {
	var config *bridge.Config

	configPath := bridgeConfigPath
	if configPath == "" {
		configPath = "bridge.yml"
	}

	if _, statErr := os.Stat(configPath); statErr == nil {
		loaded, err := bridge.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = loaded
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("failed to check config file: %w", statErr)
	}

	if config == nil {
		config = bridge.NewDefaultConfig()
	}

	if bridgeAddress != "" {
		config.Server.Address = bridgeAddress
	}
	if bridgeRedisURL != "" {
		config.Redis.URL = bridgeRedisURL
	}
	if bridgeDebugFlag {
		config.Logging.Level = "debug"
	}

	return config, nil
}

func init() {
	bridgeCmd.Flags().StringVarP(&bridgeConfigPath, "config", "c", "", "path to bridge configuration file (default bridge.yml)")
	bridgeCmd.Flags().StringVarP(&bridgeAddress, "address", "a", "", "listen address override")
	bridgeCmd.Flags().StringVarP(&bridgeRedisURL, "redis", "r", "", "redis URL override")
	bridgeCmd.Flags().BoolVarP(&bridgeDebugFlag, "debug", "d", false, "enable debug logging")
}
