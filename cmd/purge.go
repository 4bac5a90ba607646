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
	"time"

	"github.com/penny-vault/pvbt/data"
	"github.com/rs/zerolog/log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(purgeCmd)
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete price series shared through redis",
	Run: func(_ *cobra.Command, _ []string) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if !viper.GetBool("cache.redis") {
			log.Warn().Msg("redis cache is not enabled; nothing to purge")
			return
		}

		cache, err := data.NewPriceCacheFromConfig()
		if err != nil {
			log.Fatal().Err(err).Msg("could not create price cache")
		}

		cnt, err := cache.PurgeShared(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not purge shared price cache")
		}

		log.Info().Int("NumDeleted", cnt).Msg("purged shared price cache")
	},
}
