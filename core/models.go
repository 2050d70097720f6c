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

package core

import (
	"slices"
	"time"
)

// DocStatus is the lifecycle state of a document inside a business.
type DocStatus string

const (
	// DocStatusActive marks a document whose backing file is expected on disk.
	DocStatusActive DocStatus = "active"
	// DocStatusDeleted marks a document whose backing file disappeared.
	DocStatusDeleted DocStatus = "deleted"
	// DocStatusCorrupted marks a document that could not be read or processed.
	DocStatusCorrupted DocStatus = "corrupted"
)

// CollectionPrefix is prepended to a business ID to form its index-store collection name.
const CollectionPrefix = "business_"

// Index-store field names shared by every backend.
const (
	VectorField  = "vector"
	PrimaryField = "pk_id"
	TextField    = "text"
)

// CollectionName returns the index-store collection used by a business.
func CollectionName(businessID string) string {
	return CollectionPrefix + businessID
}

// Business is an isolated document collection with its own directory,
// metadata entry and index-store collection.
type Business struct {
	ID          string               `json:"-"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Documents   map[string]*Document `json:"documents"`
}

// ActiveDocumentCount returns how many documents are currently active.
func (b *Business) ActiveDocumentCount() int {
	n := 0
	for _, doc := range b.Documents {
		if doc.Status == DocStatusActive {
			n++
		}
	}
	return n
}

// Document is a single file registered in a business.
type Document struct {
	ID                string    `json:"-"`
	FileName          string    `json:"file_name"`
	OriginalPath      string    `json:"original_path"`
	KBPath            string    `json:"kb_path"`
	Status            DocStatus `json:"status"`
	Fingerprint       string    `json:"file_fingerprint"`
	AddedAt           time.Time `json:"added_at"`
	Entities          []string  `json:"entities"`
	NeedsReprocessing bool      `json:"needs_reprocessing,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := *d
	c.Entities = slices.Clone(d.Entities)
	return &c
}

// BusinessSummary is a read-only view of a business used for listings.
type BusinessSummary struct {
	ID            string
	Name          string
	Description   string
	DocumentCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BusinessInfo is a summary plus the active documents of a business.
type BusinessInfo struct {
	BusinessSummary
	Documents []*Document
}

// Relation types recorded on graph edges.
const (
	RelationSharedEntity = "shared_entity"
	RelationQueryUsage   = "query_usage"
	RelationManual       = "manual"
)

// Relation is a read-only view of one direction of a symmetric edge.
type Relation struct {
	From           string
	To             string
	Types          []string
	Weight         float64
	SharedEntities []string
}

// SyncStatus is the outcome class of a validation step or a whole sync.
type SyncStatus string

const (
	SyncOK      SyncStatus = "ok"
	SyncWarning SyncStatus = "warning"
	SyncError   SyncStatus = "error"
)

// FileValidation reports on backing files of active documents.
type FileValidation struct {
	Total       int      `json:"total_documents"`
	Existing    int      `json:"existing_files"`
	Missing     int      `json:"missing_files"`
	Extra       int      `json:"extra_files"`
	MissingDocs []string `json:"missing_documents,omitempty"`
	ExtraFiles  []string `json:"extra_file_names,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// FingerprintValidation reports content changes of active documents.
type FingerprintValidation struct {
	Checked     int      `json:"total_checked"`
	Unchanged   int      `json:"unchanged"`
	Changed     int      `json:"changed"`
	Errors      int      `json:"errors"`
	ChangedDocs []string `json:"changed_documents,omitempty"`
}

// IndexValidation reports on the business's index-store collection.
type IndexValidation struct {
	Status           SyncStatus `json:"status"`
	Message          string     `json:"message"`
	CollectionExists bool       `json:"index_exists"`
	RowCount         int64      `json:"document_count"`
	ActiveDocuments  int        `json:"metadata_doc_count"`
}

// SyncResult is the per-business outcome of a consistency check.
// It is computed on demand and never persisted.
type SyncResult struct {
	BusinessID            string                `json:"business_id"`
	Status                SyncStatus            `json:"status"`
	Message               string                `json:"message"`
	FileValidation        FileValidation        `json:"file_validation"`
	FingerprintValidation FingerprintValidation `json:"fingerprint_validation"`
	IndexValidation       IndexValidation       `json:"index_validation"`
	NeedsRebuild          bool                  `json:"needs_rebuild"`
	Rebuilt               bool                  `json:"rebuilt"`
	CheckedAt             time.Time             `json:"checked_at"`
}

// SyncReport aggregates a sweep over every business.
type SyncReport struct {
	Total      int                   `json:"total_businesses"`
	Succeeded  int                   `json:"synced_businesses"`
	Businesses map[string]SyncResult `json:"businesses"`
}

// SearchNode is a single index hit tagged with the business it came from.
type SearchNode struct {
	BusinessID     string
	BusinessName   string
	PK             int64
	DocumentID     string
	Text           string
	Score          float32
	RelationWeight float64
}

// RankScore is the merge key for cross-business results.
// Relation strength boosts the similarity score but never replaces it.
func (n *SearchNode) RankScore() float64 {
	return float64(n.Score) * (1 + n.RelationWeight)
}
