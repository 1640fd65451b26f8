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

// Package config loads and validates the typed configuration shared by the
// tree availability service and the state bridge service.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Provider configures the Ethereum JSON-RPC endpoint used to read the
// canonical chain.
type Provider struct {
	RPCEndpoint string  `json:"rpc_endpoint" validate:"required,url"`
	Throttle    float64 `json:"throttle" validate:"gt=0"`
}

// Retry configures RetryPolicy's budgets and backoff curve.
type Retry struct {
	MaxRateLimitRetries uint          `json:"max_rate_limit_retries"`
	MaxTimeoutRetries   uint          `json:"max_timeout_retries"`
	InitialBackoff      time.Duration `json:"initial_backoff" validate:"gt=0"`
	MaxBackoff          time.Duration `json:"max_backoff" validate:"gt=0"`
}

// Bridge configures a single downstream state bridge.
type Bridge struct {
	Name                string         `json:"name" validate:"required"`
	ProviderRPCEndpoint string         `json:"provider_rpc_endpoint" validate:"required,url"`
	StateBridgeAddress  common.Address `json:"state_bridge_address"`
	BridgedWorldIDAddr  common.Address `json:"bridged_world_id_address"`
	RelayingPeriod      time.Duration  `json:"relaying_period" validate:"gt=0"`
}

// ServiceConfig is the full typed configuration for both binaries. A single
// schema is shared so that one config file can drive either process; each
// binary only reads the fields it needs.
type ServiceConfig struct {
	TreeDepth           uint8          `json:"tree_depth" validate:"required,gt=0,lte=32"`
	DensePrefixDepth    uint8          `json:"dense_prefix_depth" validate:"ltefield=TreeDepth"`
	TreeHistorySize     int            `json:"tree_history_size" validate:"gt=0"`
	WorldIDContractAddr common.Address `json:"world_id_contract_address"`
	CreationBlock       uint64         `json:"creation_block"`
	WindowSize          uint64         `json:"window_size" validate:"gt=0"`
	SyncToHeadSleep     time.Duration  `json:"sync_to_head_sleep" validate:"gt=0"`
	SocketAddress       string         `json:"socket_address" validate:"required,hostname_port"`
	MetricsAddress      string         `json:"metrics_address"`
	LogLevel            string         `json:"log_level" validate:"required,oneof=trace debug info warn error fatal panic"`

	Provider Provider `json:"provider" validate:"required"`
	Retry    Retry    `json:"retry" validate:"required"`
	Bridges  []Bridge `json:"bridges" validate:"dive"`
}

// Load decodes and validates a ServiceConfig from r.
func Load(r io.Reader) (*ServiceConfig, error) {
	var cfg ServiceConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	err := dec.Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}

	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
