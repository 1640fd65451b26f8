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
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/worldtree-labs/world-tree/api/treeavailability"
	"github.com/worldtree-labs/world-tree/chain"
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

	var flagConfig string
	pflag.StringVarP(&flagConfig, "config", "c", "config.json", "path to service configuration file")
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

	client, err := ethclient.DialContext(context.Background(), cfg.Provider.RPCEndpoint)
	if err != nil {
		log.Error().Err(err).Str("endpoint", cfg.Provider.RPCEndpoint).Msg("could not connect to provider")
		return failure
	}
	defer client.Close()

	chainMetrics := metrics.NewChain()

	policy := retry.Policy{
		MaxRateLimitRetries: cfg.Retry.MaxRateLimitRetries,
		MaxTimeoutRetries:   cfg.Retry.MaxTimeoutRetries,
		InitialBackoff:      cfg.Retry.InitialBackoff,
		MaxBackoff:          cfg.Retry.MaxBackoff,
		OnRetry: func(class retry.Classification) {
			chainMetrics.RetryCount.WithLabelValues(class.String()).Inc()
		},
	}
	throttle := retry.NewThrottle(cfg.Provider.Throttle, int(cfg.Provider.Throttle), 0, 50*time.Millisecond)

	topics := [][]common.Hash{{contracts.TreeChangedTopic}}
	scanner := chain.NewScanner(client, cfg.WorldIDContractAddr, topics, cfg.CreationBlock, cfg.WindowSize, policy, throttle)

	data := worldtree.NewTreeData(cfg.TreeDepth, cfg.DensePrefixDepth, cfg.TreeHistorySize)
	updater := worldtree.NewUpdater(log, scanner, client, data)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- updater.Run(ctx, cfg.SyncToHeadSleep)
	}()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				chainMetrics.ScannerCursor.Set(float64(scanner.Cursor()))
				chainMetrics.HistoryDepth.Set(float64(data.HistoryDepth()))
				chainMetrics.TreeLeaves.Set(float64(data.LeafCount()))
			}
		}
	}()

	controller := treeavailability.NewController(log, data, updater)
	mux := treeavailability.NewMux(controller)
	server := &http.Server{Addr: cfg.SocketAddress, Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.SocketAddress).Msg("tree availability service starting")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

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

waitForStop:
	for {
		select {
		case <-sig:
			log.Info().Msg("tree availability service stopping")
			break waitForStop
		case err := <-done:
			// Run only returns nil once ctx is already cancelled, so a nil
			// error here never warrants shutting the service down on its own.
			if err != nil {
				log.Error().Err(err).Msg("tree updater failed")
				cancel()
				return failure
			}
		case err := <-serveErr:
			if err != nil {
				log.Error().Err(err).Msg("tree availability server failed")
				cancel()
				return failure
			}
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("could not shut down tree availability server cleanly")
	}
	if metricsServer != nil {
		_ = metricsServer.Stop(shutdownCtx)
	}

	return success
}
