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

package consistency

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/ingestion"
	"github.com/poiesic/bizkb/metadata"
	"github.com/poiesic/bizkb/storage"
)

// Rebuilder drops and re-creates a business's collection from its active
// documents.
type Rebuilder interface {
	Rebuild(ctx context.Context, businessID string) error
}

var _ Rebuilder = (*ingestion.Pipeline)(nil)

// Engine validates and repairs businesses.
type Engine struct {
	meta      *metadata.Store
	index     storage.IndexStore
	rebuilder Rebuilder
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// WithClock overrides the time source used for CheckedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		e.now = now
		return nil
	}
}

// NewEngine creates a sync engine.
func NewEngine(meta *metadata.Store, index storage.IndexStore, rebuilder Rebuilder, opts ...Option) (*Engine, error) {
	if meta == nil {
		return nil, ErrMetadataRequired
	}
	if index == nil {
		return nil, ErrIndexStoreRequired
	}
	if rebuilder == nil {
		return nil, ErrRebuilderRequired
	}
	e := &Engine{
		meta:      meta,
		index:     index,
		rebuilder: rebuilder,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "sync")
	return e, nil
}

// SyncBusiness validates one business and rebuilds its collection when
// any validation reports drift.
func (e *Engine) SyncBusiness(ctx context.Context, businessID string) core.SyncResult {
	result := core.SyncResult{
		BusinessID: businessID,
		Status:     core.SyncOK,
		CheckedAt:  e.now().UTC(),
	}
	if !e.meta.BusinessExists(businessID) {
		result.Status = core.SyncError
		result.Message = fmt.Sprintf("business %q does not exist", businessID)
		return result
	}
	e.logger.Info("sync started", "business", businessID)

	result.FileValidation = e.validateFiles(businessID, true)
	result.FingerprintValidation = e.validateFingerprints(businessID)
	result.IndexValidation = e.validateIndex(ctx, businessID)
	result.NeedsRebuild = result.FileValidation.Missing > 0 ||
		result.FingerprintValidation.Changed > 0 ||
		result.IndexValidation.Status != core.SyncOK

	if result.NeedsRebuild {
		e.logger.Info("rebuilding collection", "business", businessID,
			"missing", result.FileValidation.Missing,
			"changed", result.FingerprintValidation.Changed,
			"index", result.IndexValidation.Status)
		err := e.rebuilder.Rebuild(ctx, businessID)
		switch {
		case err == nil:
			result.Rebuilt = true
			result.Message = "synchronized, collection rebuilt"
		case errors.Is(err, ingestion.ErrNoActiveDocuments):
			result.Status = core.SyncWarning
			result.Message = "no active documents, collection dropped"
		default:
			e.logger.Error("rebuild failed", "business", businessID, "err", err)
			result.Status = core.SyncError
			result.Message = fmt.Sprintf("rebuild failed: %v", err)
		}
	} else {
		result.Message = "synchronized, no rebuild needed"
		if result.FileValidation.Error != "" || result.FingerprintValidation.Errors > 0 {
			result.Status = core.SyncWarning
		}
	}

	if err := e.meta.Save(); err != nil {
		e.logger.Error("failed to save metadata after sync", "business", businessID, "err", err)
		result.Status = core.SyncError
		result.Message = fmt.Sprintf("%s; saving metadata failed: %v", result.Message, err)
	}

	e.logger.Info("sync finished", "business", businessID, "status", result.Status,
		"missing", result.FileValidation.Missing,
		"changed", result.FingerprintValidation.Changed,
		"extra", result.FileValidation.Extra,
		"rebuilt", result.Rebuilt)
	return result
}

// SyncAll syncs every business sequentially. A failing business is
// recorded in the report and the sweep continues.
func (e *Engine) SyncAll(ctx context.Context) core.SyncReport {
	ids := e.meta.BusinessIDs()
	report := core.SyncReport{
		Total:      len(ids),
		Businesses: make(map[string]core.SyncResult, len(ids)),
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.Businesses[id] = core.SyncResult{
				BusinessID: id,
				Status:     core.SyncError,
				Message:    err.Error(),
				CheckedAt:  e.now().UTC(),
			}
			continue
		}
		result := e.SyncBusiness(ctx, id)
		report.Businesses[id] = result
		if result.Status != core.SyncError {
			report.Succeeded++
		}
	}
	e.logger.Info("sync sweep finished", "total", report.Total, "succeeded", report.Succeeded)
	return report
}

// Status is a read-only quick check running file and index validation.
// Nothing is repaired or rebuilt.
func (e *Engine) Status(ctx context.Context, businessID string) core.SyncResult {
	result := core.SyncResult{
		BusinessID: businessID,
		Status:     core.SyncOK,
		CheckedAt:  e.now().UTC(),
	}
	if !e.meta.BusinessExists(businessID) {
		result.Status = core.SyncError
		result.Message = fmt.Sprintf("business %q does not exist", businessID)
		return result
	}

	result.FileValidation = e.validateFiles(businessID, false)
	result.IndexValidation = e.validateIndex(ctx, businessID)
	result.NeedsRebuild = result.FileValidation.Missing > 0 || result.IndexValidation.Status != core.SyncOK

	switch {
	case result.FileValidation.Missing > 0 || result.IndexValidation.Status == core.SyncError:
		result.Status = core.SyncError
	case result.IndexValidation.Status == core.SyncWarning:
		result.Status = core.SyncWarning
	}
	result.Message = result.IndexValidation.Message
	return result
}

// validateFiles checks the backing file of every active document. With
// repair set, documents whose file is gone are marked deleted.
func (e *Engine) validateFiles(businessID string, repair bool) core.FileValidation {
	var v core.FileValidation
	docs := e.meta.GetActiveDocuments(businessID)
	v.Total = len(docs)

	for _, doc := range docs {
		_, err := os.Stat(doc.KBPath)
		switch {
		case err == nil:
			v.Existing++
		case errors.Is(err, fs.ErrNotExist):
			v.Missing++
			v.MissingDocs = append(v.MissingDocs, doc.ID)
			e.logger.Warn("document file missing", "business", businessID, "document", doc.ID, "path", doc.KBPath)
			if repair {
				if err := e.meta.MarkDeleted(businessID, doc.ID); err != nil {
					e.logger.Warn("failed to mark document deleted", "document", doc.ID, "err", err)
				}
			}
		default:
			v.Existing++
			e.logger.Warn("cannot stat document file", "business", businessID, "document", doc.ID, "err", err)
		}
	}

	known := e.meta.KnownFiles(businessID)
	entries, err := os.ReadDir(e.meta.DocumentDir(businessID))
	if err != nil {
		v.Error = err.Error()
		return v
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Clean(filepath.Join(e.meta.DocumentDir(businessID), entry.Name()))
		if !known[path] {
			v.Extra++
			v.ExtraFiles = append(v.ExtraFiles, entry.Name())
		}
	}
	if v.Extra > 0 {
		slices.Sort(v.ExtraFiles)
		e.logger.Info("unregistered files in document directory", "business", businessID, "files", v.ExtraFiles)
	}
	return v
}

// validateFingerprints recomputes the fingerprint of every active document
// whose file exists.
func (e *Engine) validateFingerprints(businessID string) core.FingerprintValidation {
	var v core.FingerprintValidation
	for _, doc := range e.meta.GetActiveDocuments(businessID) {
		if _, err := os.Stat(doc.KBPath); err != nil {
			continue
		}
		v.Checked++
		fp, err := core.Fingerprint(doc.KBPath)
		if err != nil {
			v.Errors++
			e.logger.Warn("fingerprint failed", "business", businessID, "document", doc.ID, "err", err)
			continue
		}
		if fp == doc.Fingerprint {
			v.Unchanged++
			if doc.NeedsReprocessing {
				if err := e.meta.ClearReprocessing(businessID, doc.ID); err != nil {
					e.logger.Warn("failed to clear reprocessing flag", "document", doc.ID, "err", err)
				}
			}
			continue
		}
		v.Changed++
		v.ChangedDocs = append(v.ChangedDocs, doc.ID)
		if err := e.meta.UpdateFingerprint(businessID, doc.ID, fp); err != nil {
			e.logger.Warn("failed to update fingerprint", "document", doc.ID, "err", err)
		}
	}
	return v
}

// validateIndex inspects the business's collection.
func (e *Engine) validateIndex(ctx context.Context, businessID string) core.IndexValidation {
	collection := core.CollectionName(businessID)
	v := core.IndexValidation{
		ActiveDocuments: len(e.meta.GetActiveDocuments(businessID)),
	}

	exists, err := e.index.CollectionExists(ctx, collection)
	if err != nil {
		v.Status = core.SyncError
		v.Message = fmt.Sprintf("checking collection failed: %v", err)
		return v
	}
	if !exists {
		v.Status = core.SyncWarning
		v.Message = "collection does not exist"
		return v
	}
	v.CollectionExists = true

	stats, err := e.index.Stats(ctx, collection)
	if err != nil {
		v.Status = core.SyncError
		v.Message = fmt.Sprintf("reading collection stats failed: %v", err)
		return v
	}
	v.RowCount = stats.RowCount

	switch {
	case v.RowCount == 0:
		v.Status = core.SyncWarning
		v.Message = "collection is empty"
	case v.ActiveDocuments == 0:
		v.Status = core.SyncWarning
		v.Message = "no active documents in metadata"
	default:
		v.Status = core.SyncOK
		v.Message = "collection is healthy"
	}
	return v
}
