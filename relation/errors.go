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

package relation

import "errors"

var (
	// ErrNegativeWeight indicates a relation weight below zero.
	ErrNegativeWeight = errors.New("relation weight cannot be negative")

	// ErrNoExtractor indicates ExtractAndLink was called on a graph built
	// without an entity extractor.
	ErrNoExtractor = errors.New("no entity extractor configured")

	// ErrPersist indicates the relation file could not be written.
	ErrPersist = errors.New("failed to persist relations")
)
