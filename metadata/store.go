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

package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/bizkb/core"
	"github.com/poiesic/bizkb/snapshot"
)

const (
	// FileName is the registry file inside the base directory.
	FileName = "kb_metadata.json"
	// BackupDirName is the directory receiving timestamped backups.
	BackupDirName = core.BackupDirName
	// DocumentsDirName holds the canonical copies of a business's documents.
	DocumentsDirName = "documents"
	// IndexDirName is reserved per business for local index artifacts.
	IndexDirName = "index"
)

type registry struct {
	Businesses map[string]*core.Business `json:"businesses"`
}

// Store is the durable registry of businesses and documents.
// All access is serialized by a lock that may be shared with other
// components mutating JSON-backed state.
type Store struct {
	mu         sync.Locker
	baseDir    string
	file       *snapshot.File
	businesses map[string]*core.Business
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the logger. A nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithLock shares a lock with other components.
func WithLock(mu sync.Locker) Option {
	return func(s *Store) error {
		if mu == nil {
			return errors.New("lock cannot be nil")
		}
		s.mu = mu
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}

// Open loads the registry from baseDir, creating the directory if needed.
// A corrupt registry file is backed up and replaced by an empty one.
func Open(baseDir string, opts ...Option) (*Store, error) {
	s := &Store{
		mu:         &sync.Mutex{},
		baseDir:    baseDir,
		businesses: make(map[string]*core.Business),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "metadata-store")

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	s.file = snapshot.New(filepath.Join(baseDir, FileName), filepath.Join(baseDir, BackupDirName))

	var reg registry
	recovered, err := s.file.Load(&reg)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	}
	if recovered {
		s.logger.Warn("metadata file was corrupt, backed up and started empty", "path", s.file.Path)
		if err := s.file.Save(registry{Businesses: s.businesses}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}
	for id, b := range reg.Businesses {
		if b == nil {
			continue
		}
		b.ID = id
		if b.Documents == nil {
			b.Documents = make(map[string]*core.Document)
		}
		for docID, doc := range b.Documents {
			if doc == nil {
				delete(b.Documents, docID)
				continue
			}
			doc.ID = docID
			if doc.Status == "" {
				doc.Status = core.DocStatusActive
			}
		}
		s.businesses[id] = b
	}
	s.logger.Debug("metadata loaded", "businesses", len(s.businesses))
	return s, nil
}

// BaseDir returns the knowledge base root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// BusinessDir returns the directory of a business.
func (s *Store) BusinessDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

// DocumentDir returns the document directory of a business.
func (s *Store) DocumentDir(id string) string {
	return filepath.Join(s.baseDir, id, DocumentsDirName)
}

// BackupDir returns the directory receiving backups.
func (s *Store) BackupDir() string {
	return filepath.Join(s.baseDir, BackupDirName)
}

// persist writes the registry. Must be called with the lock held.
func (s *Store) persist() error {
	if err := s.file.Save(registry{Businesses: s.businesses}); err != nil {
		s.logger.Error("failed to save metadata", "err", err)
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// Save persists the current registry.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// CreateBusiness registers a new business and creates its directories.
// Returns false without mutating anything if the ID is already registered.
// An empty name defaults to the ID.
func (s *Store) CreateBusiness(id, name, description string) (bool, error) {
	if err := core.ValidateBusinessID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.businesses[id]; ok {
		s.logger.Warn("business already exists", "business", id)
		return false, nil
	}

	for _, dir := range []string{DocumentsDirName, IndexDirName} {
		if err := os.MkdirAll(filepath.Join(s.baseDir, id, dir), 0755); err != nil {
			return false, err
		}
	}

	if name == "" {
		name = id
	}
	now := s.now()
	s.businesses[id] = &core.Business{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Documents:   make(map[string]*core.Document),
	}
	if err := s.persist(); err != nil {
		delete(s.businesses, id)
		return false, err
	}
	s.logger.Info("business created", "business", id, "name", name)
	return true, nil
}

// RemoveBusinessFiles backs up and removes the directory of a business.
// Missing directories are not an error.
func (s *Store) RemoveBusinessFiles(id string) error {
	if err := core.ValidateBusinessID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeDir(id)
}

func (s *Store) removeDir(id string) error {
	dir := s.BusinessDir(id)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if dst, err := snapshot.Backup(dir, s.BackupDir(), s.now()); err != nil {
		s.logger.Warn("failed to back up business directory", "business", id, "err", err)
	} else {
		s.logger.Debug("business directory backed up", "business", id, "backup", dst)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	return nil
}

// DeleteBusiness removes a business's directory, if still present, and its
// registry entry. Deleting an unknown business returns false and no error.
func (s *Store) DeleteBusiness(id string) (bool, error) {
	if err := core.ValidateBusinessID(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dirErr := s.removeDir(id)
	if dirErr != nil {
		s.logger.Warn("failed to remove business directory", "business", id, "err", dirErr)
	}

	b, ok := s.businesses[id]
	if !ok {
		return false, dirErr
	}
	delete(s.businesses, id)
	if err := s.persist(); err != nil {
		s.businesses[id] = b
		return false, err
	}
	s.logger.Info("business deleted", "business", id)
	return true, dirErr
}

// BusinessExists reports whether a business is registered.
func (s *Store) BusinessExists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.businesses[id]
	return ok
}

// BusinessIDs returns the registered business IDs in sorted order.
func (s *Store) BusinessIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.businesses))
}

// BusinessName returns the display name of a business.
func (s *Store) BusinessName(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return "", false
	}
	return b.Name, true
}

// ListBusinesses returns a summary of every business sorted by ID.
// DocumentCount only counts active documents.
func (s *Store) ListBusinesses() []core.BusinessSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.BusinessSummary, 0, len(s.businesses))
	for _, id := range slices.Sorted(maps.Keys(s.businesses)) {
		out = append(out, summarize(s.businesses[id]))
	}
	return out
}

// BusinessInfo returns a business summary with its active documents.
func (s *Store) BusinessInfo(id string) (*core.BusinessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBusinessNotFound, id)
	}
	return &core.BusinessInfo{
		BusinessSummary: summarize(b),
		Documents:       activeDocs(b),
	}, nil
}

func summarize(b *core.Business) core.BusinessSummary {
	return core.BusinessSummary{
		ID:            b.ID,
		Name:          b.Name,
		Description:   b.Description,
		DocumentCount: b.ActiveDocumentCount(),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// activeDocs returns clones of the active documents sorted by add time.
func activeDocs(b *core.Business) []*core.Document {
	var docs []*core.Document
	for _, doc := range b.Documents {
		if doc.Status == core.DocStatusActive {
			docs = append(docs, doc.Clone())
		}
	}
	slices.SortFunc(docs, func(a, b *core.Document) int {
		if c := a.AddedAt.Compare(b.AddedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return docs
}

// AddDocument copies sourcePath into the business's document directory,
// fingerprints the copy and registers it as active. Returns the new document ID.
// The text argument is accepted for processors that only produce text and is
// not stored.
func (s *Store) AddDocument(businessID, sourcePath, text string, entities []string) (string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, sourcePath)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", sourcePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrBusinessNotFound, businessID)
	}

	fileName := filepath.Base(sourcePath)
	kbPath := s.uniqueKBPath(b, fileName)
	if err := snapshot.CopyFile(sourcePath, kbPath); err != nil {
		return "", fmt.Errorf("copying %s: %w", sourcePath, err)
	}
	fingerprint, err := core.Fingerprint(kbPath)
	if err != nil {
		os.Remove(kbPath)
		return "", fmt.Errorf("fingerprinting %s: %w", kbPath, err)
	}

	originalPath, err := filepath.Abs(sourcePath)
	if err != nil {
		originalPath = sourcePath
	}
	now := s.now()
	doc := &core.Document{
		ID:           uuid.NewString(),
		FileName:     fileName,
		OriginalPath: originalPath,
		KBPath:       kbPath,
		Status:       core.DocStatusActive,
		Fingerprint:  fingerprint,
		AddedAt:      now,
		Entities:     slices.Clone(entities),
	}
	if doc.Entities == nil {
		doc.Entities = []string{}
	}
	prevUpdated := b.UpdatedAt
	b.Documents[doc.ID] = doc
	b.UpdatedAt = now
	if err := s.persist(); err != nil {
		delete(b.Documents, doc.ID)
		b.UpdatedAt = prevUpdated
		os.Remove(kbPath)
		return "", err
	}
	s.logger.Info("document added", "business", businessID, "document", doc.ID, "file", fileName)
	return doc.ID, nil
}

// uniqueKBPath picks a path in the document directory not used by an active
// document nor present on disk, suffixing _N before the extension as needed.
func (s *Store) uniqueKBPath(b *core.Business, fileName string) string {
	dir := s.DocumentDir(b.ID)
	taken := make(map[string]bool)
	for _, doc := range b.Documents {
		if doc.Status == core.DocStatusActive {
			taken[doc.KBPath] = true
		}
	}
	ext := filepath.Ext(fileName)
	stem := strings.TrimSuffix(fileName, ext)
	candidate := filepath.Join(dir, fileName)
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); !taken[candidate] && errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

// RemoveDocument deletes the backing file and the registry entry.
// Returns false if the business or document is unknown.
func (s *Store) RemoveDocument(businessID, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return false, nil
	}
	doc, ok := b.Documents[docID]
	if !ok {
		return false, nil
	}
	if doc.KBPath != "" {
		if err := os.Remove(doc.KBPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove document file", "business", businessID, "document", docID, "err", err)
		}
	}
	prevUpdated := b.UpdatedAt
	delete(b.Documents, docID)
	b.UpdatedAt = s.now()
	if err := s.persist(); err != nil {
		b.Documents[docID] = doc
		b.UpdatedAt = prevUpdated
		return false, err
	}
	s.logger.Info("document removed", "business", businessID, "document", docID)
	return true, nil
}

// GetActiveDocuments returns copies of the active documents of a business.
// An unknown business yields an empty result.
func (s *Store) GetActiveDocuments(businessID string) []*core.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return nil
	}
	return activeDocs(b)
}

// Document returns a copy of a single document.
func (s *Store) Document(businessID, docID string) (*core.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrBusinessNotFound, businessID)
	}
	doc, ok := b.Documents[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, docID)
	}
	return doc.Clone(), nil
}

// KnownFiles returns the kb paths of every registered document regardless
// of status.
func (s *Store) KnownFiles(businessID string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool)
	if b, ok := s.businesses[businessID]; ok {
		for _, doc := range b.Documents {
			known[filepath.Clean(doc.KBPath)] = true
		}
	}
	return known
}

// Update applies fn to a document in memory without persisting.
// Callers batch several updates and then call Save.
func (s *Store) Update(businessID, docID string, fn func(doc *core.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.businesses[businessID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrBusinessNotFound, businessID)
	}
	doc, ok := b.Documents[docID]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, docID)
	}
	fn(doc)
	doc.ID = docID
	b.UpdatedAt = s.now()
	return nil
}

// MarkDeleted flips a document to deleted in memory.
func (s *Store) MarkDeleted(businessID, docID string) error {
	return s.Update(businessID, docID, func(doc *core.Document) {
		doc.Status = core.DocStatusDeleted
	})
}

// SetStatus sets a document's status in memory.
func (s *Store) SetStatus(businessID, docID string, status core.DocStatus) error {
	if !core.ValidateDocStatus(status) {
		return fmt.Errorf("unknown document status %q", status)
	}
	return s.Update(businessID, docID, func(doc *core.Document) {
		doc.Status = status
	})
}

// UpdateFingerprint stores a new fingerprint and flags the document for
// reprocessing.
func (s *Store) UpdateFingerprint(businessID, docID, fingerprint string) error {
	return s.Update(businessID, docID, func(doc *core.Document) {
		doc.Fingerprint = fingerprint
		doc.NeedsReprocessing = true
	})
}

// ClearReprocessing clears the reprocessing flag.
func (s *Store) ClearReprocessing(businessID, docID string) error {
	return s.Update(businessID, docID, func(doc *core.Document) {
		doc.NeedsReprocessing = false
	})
}
