// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"strings"

	"github.com/penny-vault/pvbt/backtest"
	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/data/database"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// newEngine wires provider, cache and data manager into a backtest engine
// using the current configuration
func newEngine(ctx context.Context) (*backtest.Engine, *data.Manager, error) {
	if strings.ToLower(viper.GetString("data.provider")) == "pvdb" {
		if err := database.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("could not connect to database")
			return nil, nil, err
		}
	}

	manager, err := data.NewManagerFromConfig()
	if err != nil {
		log.Error().Err(err).Msg("could not create data manager")
		return nil, nil, err
	}

	log.Info().
		Str("Provider", viper.GetString("data.provider")).
		Bool("Redis", viper.GetBool("cache.redis")).
		Bool("StrictCalendar", viper.GetBool("data.strict_calendar")).
		Msg("initialized data framework")

	return backtest.NewFromConfig(manager), manager, nil
}
