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

package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/penny-vault/pvbt/data"
	"github.com/penny-vault/pvbt/dataframe"
	"github.com/penny-vault/pvbt/portfolio"
)

// IssueDetail is one entry of a 422 response
type IssueDetail struct {
	Loc  []interface{} `json:"loc"`
	Msg  string        `json:"msg"`
	Type string        `json:"type"`
}

// ValidationResponse is the body of a 422 response
type ValidationResponse struct {
	Detail []IssueDetail `json:"detail"`
}

// ErrorResponse is the body of every other error response
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// StatusForError maps an error to the HTTP status reported to clients
func StatusForError(err error) int {
	var validationErr *portfolio.ValidationError
	var unavailableErr *data.DataUnavailableError
	var insufficientErr *dataframe.InsufficientDataError
	var missingErr *dataframe.MissingBarError
	var upstreamErr *data.UpstreamFetchError
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &validationErr):
		return fiber.StatusUnprocessableEntity
	case errors.As(err, &unavailableErr):
		return fiber.StatusNotFound
	case errors.As(err, &insufficientErr), errors.As(err, &missingErr):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &upstreamErr):
		return fiber.StatusBadGateway
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler writes errors returned by handlers as JSON with a detail
// field; validation failures list every offending field
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusForError(err)

	var validationErr *portfolio.ValidationError
	if errors.As(err, &validationErr) {
		resp := ValidationResponse{Detail: make([]IssueDetail, len(validationErr.Issues))}
		for idx, issue := range validationErr.Issues {
			resp.Detail[idx] = IssueDetail{
				Loc:  issue.Loc,
				Msg:  issue.Msg,
				Type: "value_error",
			}
		}
		return c.Status(code).JSON(resp)
	}

	detail := err.Error()
	if code == fiber.StatusInternalServerError {
		log.Error().Stack().Err(err).Str("Path", c.Path()).Msg("unhandled error")
		detail = "internal server error"
	}

	return c.Status(code).JSON(ErrorResponse{Detail: detail})
}
