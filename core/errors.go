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

import "errors"

// Domain errors
var (
	// ErrBusinessNotFound indicates the business is not registered.
	ErrBusinessNotFound = errors.New("business not found")

	// ErrBusinessExists indicates a business with the same ID is already registered.
	ErrBusinessExists = errors.New("business already exists")

	// ErrDocumentNotFound indicates the document is not registered in the business.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidBusinessID indicates a business ID cannot be used as a directory
	// and collection name.
	ErrInvalidBusinessID = errors.New("invalid business id")

	// ErrEmptyBusinessID indicates the business ID is empty.
	ErrEmptyBusinessID = errors.New("business id cannot be empty")

	// ErrReservedBusinessID indicates the business ID names a directory the
	// knowledge base uses for itself.
	ErrReservedBusinessID = errors.New("business id is reserved")

	// ErrEmptyQuery indicates a search was requested without query text.
	ErrEmptyQuery = errors.New("query cannot be empty")
)
