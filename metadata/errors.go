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

import "errors"

var (
	// ErrPersist indicates the registry could not be written after a mutation.
	// The in-memory state is rolled back when this is returned.
	ErrPersist = errors.New("failed to persist metadata")

	// ErrSourceNotFound indicates the source file of a new document does not exist.
	ErrSourceNotFound = errors.New("source file not found")
)
