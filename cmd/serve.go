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
	"os"
	"os/signal"
	"runtime/pprof"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/handler"
	"github.com/penny-vault/pvbt/middleware"
	"github.com/penny-vault/pvbt/observability/opentelemetry"
	"github.com/penny-vault/pvbt/router"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	serveCmd.Flags().IntP("port", "p", 3000, "Port to run application server on")
	if err := viper.BindEnv("server.port", "PORT"); err != nil {
		log.Panic().Err(err).Msg("could not bind server.port")
	}
	if err := viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port")); err != nil {
		log.Panic().Err(err).Msg("could not bind server.port")
	}

	serveCmd.Flags().Duration("request-timeout", 30*time.Second, "Maximum time to spend on a single backtest")
	if err := viper.BindPFlag("server.request_timeout", serveCmd.Flags().Lookup("request-timeout")); err != nil {
		log.Panic().Err(err).Msg("could not bind server.request_timeout")
	}

	rootCmd.AddCommand(serveCmd)
}

// schedulePurge periodically evicts locally cached price series
func schedulePurge(cache *data.PriceCache) *gocron.Scheduler {
	scheduler := gocron.NewScheduler(time.UTC)
	interval := viper.GetDuration("cache.purge_interval")
	if cache == nil || interval <= 0 {
		return scheduler
	}

	_, err := scheduler.Every(interval).Do(func() {
		hits, misses, fetches := cache.Stats()
		log.Info().
			Int("Entries", cache.Len()).
			Uint64("Hits", hits).
			Uint64("Misses", misses).
			Uint64("Fetches", fetches).
			Msg("purging price cache")
		cache.Purge()
	})
	if err != nil {
		log.Error().Err(err).Dur("Interval", interval).Msg("could not schedule cache purge")
	}

	scheduler.StartAsync()
	return scheduler
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pvbt server",
	Long:  `Run HTTP server that answers portfolio backtest requests`,
	Run: func(cmd *cobra.Command, args []string) {
		if Profile {
			f, err := os.Create("profile.out")
			if err != nil {
				log.Fatal().Err(err).Msg("could not create profile output file")
			}
			if err := pprof.StartCPUProfile(f); err != nil {
				log.Fatal().Err(err).Msg("could not start cpu profile")
			}
			defer pprof.StopCPUProfile()
		}

		if Trace {
			f, err := os.Create("trace.out")
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create trace output file")
			}
			defer func() {
				if err := f.Close(); err != nil {
					log.Fatal().Err(err).Msg("failed to close trace file")
				}
			}()

			if err := trace.Start(f); err != nil {
				log.Fatal().Err(err).Msg("failed to start trace")
			}
			defer trace.Stop()
		}

		ctx := context.Background()

		shutdownTracing, err := opentelemetry.Setup()
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize tracing")
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error().Err(err).Msg("tracing shutdown failed")
			}
		}()

		engine, manager, err := newEngine(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not initialize backtest engine")
		}

		scheduler := schedulePurge(manager.Cache())
		defer scheduler.Stop()

		app := fiber.New(fiber.Config{
			AppName:               "pvbt",
			DisableStartupMessage: true,
			ErrorHandler:          handler.ErrorHandler,
			JSONEncoder:           json.Marshal,
			JSONDecoder:           json.Unmarshal,
		})

		// shutdown cleanly on interrupt
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-c
			log.Info().Str("Signal", sig.String()).Msg("shutting down")
			if err := app.Shutdown(); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
			}
		}()

		app.Use(cors.New(cors.Config{
			AllowOrigins: viper.GetString("server.cors_origins"),
			AllowHeaders: "*",
			AllowMethods: "GET,POST,HEAD,OPTIONS",
		}))

		app.Use(middleware.NewLogger())

		router.SetupRoutes(app, engine, viper.GetDuration("server.request_timeout"))

		port := viper.GetString("server.port")
		log.Info().Str("Port", port).Msg("starting server")
		if err := app.Listen(":" + port); err != nil {
			log.Error().Err(err).Msg("server exited")
		}
	},
}
