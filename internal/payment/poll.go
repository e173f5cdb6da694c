/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package payment confirms a checkout by polling the published menu's
// status for a bounded number of attempts.
package payment

import (
	"context"
	"log/slog"
	"time"

	"menuwizard/internal/backend"
	applog "menuwizard/internal/log"
)

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 10
)

// StatusFetcher is the part of the backend the poller needs.
type StatusFetcher interface {
	MenuStatus(ctx context.Context, slug string) (backend.MenuStatus, error)
}

// Result is the outcome of a poll. Status is the last status received.
type Result struct {
	Status   backend.MenuStatus
	Attempts int
	Paid     bool
}

// Pending reports whether payment was still unconfirmed when polling stopped.
func (r Result) Pending() bool { return !r.Paid }

// Poller requests the status at a fixed interval until it reports paid or
// MaxAttempts requests have been made. There is no backoff and no retry of a
// failed request: the first error ends the poll.
type Poller struct {
	Fetcher     StatusFetcher
	Interval    time.Duration
	MaxAttempts int
	// OnStatus, if set, is called with every status received.
	OnStatus func(backend.MenuStatus)

	sleep func(context.Context, time.Duration) error
}

func NewPoller(f StatusFetcher) *Poller {
	return &Poller{Fetcher: f, Interval: DefaultInterval, MaxAttempts: DefaultMaxAttempts}
}

// Poll runs the loop for slug. On a failed request it returns the last
// known status together with the error. Cancelling ctx stops the loop.
func (p *Poller) Poll(ctx context.Context, slug string) (Result, error) {
	interval, maxAttempts := p.Interval, p.MaxAttempts
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	l := applog.WithOperation(applog.WithComponent("payment"), "poll").With(slog.String("slug", slug))

	var res Result
	res.Status.Slug = slug
	for res.Attempts < maxAttempts {
		if res.Attempts > 0 {
			if err := sleep(ctx, interval); err != nil {
				return res, err
			}
		}
		st, err := p.Fetcher.MenuStatus(ctx, slug)
		res.Attempts++
		if err != nil {
			l.Warn("status request failed", slog.Int("attempt", res.Attempts), slog.Any("err", err))
			return res, err
		}
		res.Status = st
		if p.OnStatus != nil {
			p.OnStatus(st)
		}
		if st.IsPaid {
			res.Paid = true
			l.Info("payment confirmed", slog.Int("attempts", res.Attempts))
			return res, nil
		}
	}
	l.Info("payment still pending", slog.Int("attempts", res.Attempts))
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
