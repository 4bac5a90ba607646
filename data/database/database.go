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

package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// PgxIface is the subset of pgxpool.Pool used by the EOD provider; pgxmock
// connections satisfy it in tests
type PgxIface interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

var (
	ErrNotConnected = errors.New("database is not connected")
)

var pool PgxIface

// SetPool replaces the pool used by Query
func SetPool(myPool PgxIface) {
	pool = myPool
}

// Connect opens a pool to database.url and verifies it with a ping
func Connect(ctx context.Context) error {
	myPool, err := pgxpool.Connect(ctx, viper.GetString("database.url"))
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to pool")
		return err
	}
	if err = myPool.Ping(ctx); err != nil {
		log.Error().Stack().Err(err).Msg("could not ping database server")
		myPool.Close()
		return err
	}
	SetPool(myPool)
	return nil
}

// Query runs sql against the configured pool
func Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if pool == nil {
		return nil, ErrNotConnected
	}
	return pool.Query(ctx, sql, args...)
}
