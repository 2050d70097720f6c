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

// Package mock provides test doubles for the ai package interfaces.
//
// Behavior can be injected through the XxxFunc fields:
//
//	extractor := mock.NewMockEntityExtractor()
//	extractor.ExtractEntitiesFunc = func(ctx context.Context, text string, max int) ([]string, error) {
//	    return []string{"widget"}, nil
//	}
//
//	// Check call counts
//	count := extractor.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: deterministic bag-of-words vectors, so texts sharing
//     words are similar
//   - MockEntityExtractor: distinct words longer than three letters
//   - MockProvider: aggregates mock embedder and extractor
//
// Call counters are atomic; the mocks are safe to share across goroutines
// as long as the Func fields are not changed concurrently.
package mock
