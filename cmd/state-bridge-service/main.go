// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/worldtree-labs/world-tree/bridge"
	"github.com/worldtree-labs/world-tree/config"
	"github.com/worldtree-labs/world-tree/contracts"
	"github.com/worldtree-labs/world-tree/metrics"
	"github.com/worldtree-labs/world-tree/retry"
	"github.com/worldtree-labs/world-tree/worldtree"
)

const (
	success = 0
	failure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	var (
		flagConfig     string
		flagPrivateKey string
	)
	pflag.StringVarP(&flagConfig, "config", "c", "config.json", "path to service configuration file")
	pflag.StringVar(&flagPrivateKey, "private-key", "", "hex-encoded private key used to sign propagateRoot transactions")
	pflag.Parse()

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)

	file, err := os.Open(flagConfig)
	if err != nil {
		log.Error().Err(err).Str("config", flagConfig).Msg("could not open config file")
		return failure
	}
	defer file.Close()

	cfg, err := config.Load(file)
	if err != nil {
		log.Error().Err(err).Msg("could not load config")
		return failure
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Error().Err(err).Str("level", cfg.LogLevel).Msg("could not parse log level")
		return failure
	}
	log = log.Level(level)

	key, err := crypto.HexToECDSA(flagPrivateKey)
	if err != nil {
		log.Error().Err(err).Msg("could not parse private key")
		return failure
	}

	canonicalClient, err := ethclient.DialContext(context.Background(), cfg.Provider.RPCEndpoint)
	if err != nil {
		log.Error().Err(err).Str("endpoint", cfg.Provider.RPCEndpoint).Msg("could not connect to canonical chain provider")
		return failure
	}
	defer canonicalClient.Close()

	chainID, err := canonicalClient.ChainID(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("could not read canonical chain id")
		return failure
	}

	watcher := worldtree.NewRootWatcher(log, canonicalClient, cfg.WorldIDContractAddr)

	signer := bridge.NewKeySigner(key, chainID, canonicalClient)
	bridges, downstreamClients, err := buildBridges(log, cfg, canonicalClient, signer)
	if err != nil {
		log.Error().Err(err).Msg("could not build state bridges")
		return failure
	}
	defer func() {
		for _, c := range downstreamClients {
			c.Close()
		}
	}()

	service := bridge.NewService(log, watcher, bridges)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	var metricsServer *metrics.Server
	if cfg.MetricsAddress != "" {
		metricsServer = metrics.NewServer(log, cfg.MetricsAddress)
		go func() {
			log.Info().Str("address", cfg.MetricsAddress).Msg("metrics server starting")
			err := metricsServer.Start()
			if err != nil {
				log.Warn().Err(err).Msg("metrics server failed")
			}
		}()
	}

	select {
	case <-sig:
		log.Info().Msg("state bridge service stopping")
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("state bridge service failed")
			cancel()
			return failure
		}
	}

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}

	return success
}

// buildBridges dials a downstream provider for each configured bridge, to
// read the BridgedWorldID contract's latest root; the propagateRoot
// transaction itself is always sent on the canonical chain, through
// canonicalClient, since that is where the StateBridge contract lives.
func buildBridges(log zerolog.Logger, cfg *config.ServiceConfig, canonicalClient *ethclient.Client, signer *bridge.KeySigner) ([]*bridge.StateBridge, []*ethclient.Client, error) {
	bridges := make([]*bridge.StateBridge, 0, len(cfg.Bridges))
	clients := make([]*ethclient.Client, 0, len(cfg.Bridges))

	for _, bridgeCfg := range cfg.Bridges {
		client, err := ethclient.DialContext(context.Background(), bridgeCfg.ProviderRPCEndpoint)
		if err != nil {
			return nil, clients, fmt.Errorf("could not connect to %s: %w", bridgeCfg.Name, err)
		}
		clients = append(clients, client)

		canonical := contracts.NewStateBridge(bridgeCfg.StateBridgeAddress, canonicalClient)
		downstream := contracts.NewBridgedWorldID(bridgeCfg.BridgedWorldIDAddr, client)

		bridgeMetrics := metrics.NewBridge(bridgeCfg.Name)
		policy := retry.Policy{
			MaxRateLimitRetries: cfg.Retry.MaxRateLimitRetries,
			MaxTimeoutRetries:   cfg.Retry.MaxTimeoutRetries,
			InitialBackoff:      cfg.Retry.InitialBackoff,
			MaxBackoff:          cfg.Retry.MaxBackoff,
		}

		b := bridge.NewStateBridge(log, canonical, downstream, signer, policy, bridgeCfg.RelayingPeriod)
		b.OnRelay = func(latency time.Duration) {
			bridgeMetrics.RelayLatency.Observe(latency.Seconds())
			bridgeMetrics.RelaysTotal.Inc()
		}
		bridges = append(bridges, b)
	}

	return bridges, clients, nil
}
