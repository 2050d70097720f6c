// Copyright 2025 Poiesic Systems
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

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/bizkb/ingestion"
)

// Rebuilder drops and re-creates one business's collection.
type Rebuilder interface {
	Rebuild(ctx context.Context, businessID string) error
}

// Businesses lists the businesses to sweep.
type Businesses interface {
	BusinessIDs() []string
}

// Config holds configuration for a reindex sweep.
type Config struct {
	// ReportInterval is how often to report progress (number of businesses)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per business
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReportInterval: 1,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Report summarizes a sweep.
type Report struct {
	Total   int
	Rebuilt []string
	// Skipped lists businesses that have no active documents.
	Skipped []string
	Failed  map[string]error
	Elapsed time.Duration
}

// Reindexer rebuilds every business's collection.
type Reindexer struct {
	businesses Businesses
	rebuilder  Rebuilder
	config     *Config
	progress   io.Writer
	logger     *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr); nil discards it.
func NewReindexer(businesses Businesses, rebuilder Rebuilder, config *Config, progress io.Writer, logger *slog.Logger) (*Reindexer, error) {
	if businesses == nil {
		return nil, ErrBusinessesRequired
	}
	if rebuilder == nil {
		return nil, ErrRebuilderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxRetries <= 0 {
		return nil, ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reindexer{
		businesses: businesses,
		rebuilder:  rebuilder,
		config:     config,
		progress:   progress,
		logger:     logger.With("component", "reindex"),
	}, nil
}

// Run rebuilds every business in order. The returned error joins the
// failures of individual businesses; Run stops early only when ctx ends.
func (r *Reindexer) Run(ctx context.Context) (*Report, error) {
	ids := r.businesses.BusinessIDs()
	report := &Report{Total: len(ids), Failed: make(map[string]error)}
	if len(ids) == 0 {
		fmt.Fprintf(r.progress, "No businesses found (0 businesses)\n")
		return report, nil
	}

	fmt.Fprintf(r.progress, "Starting reindex of %d businesses\n", len(ids))
	tracker := NewProgressTracker(r.progress, len(ids), r.config.ReportInterval)
	tracker.Start()

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		empty := false
		err := ingestion.RetryWithBackoff(ctx, func() error {
			err := r.rebuilder.Rebuild(ctx, id)
			if errors.Is(err, ingestion.ErrNoActiveDocuments) {
				empty = true
				return nil
			}
			return err
		}, r.config.MaxRetries, r.config.RetryDelay)
		switch {
		case empty:
			r.logger.Info("skipped business without documents", "business", id)
			report.Skipped = append(report.Skipped, id)
		case err != nil:
			r.logger.Error("reindex failed", "business", id, "err", err)
			report.Failed[id] = err
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		default:
			r.logger.Info("reindexed business", "business", id)
			report.Rebuilt = append(report.Rebuilt, id)
		}
		tracker.Increment(1)
	}

	tracker.Finish()
	report.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex complete. %d rebuilt, %d skipped, %d failed in %v\n",
		len(report.Rebuilt), len(report.Skipped), len(report.Failed), report.Elapsed.Round(time.Millisecond))
	return report, errors.Join(errs...)
}
