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

// Package ai provides abstractions for the AI services used by the knowledge base.
//
// Two services are consumed:
//
//   - Embedder: turns document chunks and queries into vectors for the index store
//   - EntityExtractor: pulls the salient entities out of a document; the relation
//     graph links businesses that share them
//
// AIProvider bundles both for initialization and lifecycle management.
//
// # Implementation Packages
//
//   - ai/rules: local rule-based entity extractor, no network access
//   - ai/openai: OpenAI-compatible embedder and chat-model entity extractor
//   - ai/mock: test doubles
//
// Production constructors return interface types. Mock constructors return
// concrete types so tests can inject behavior and assert call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithExtractor(ai.ExtractorLLM))
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	entities, err := provider.EntityExtractor().ExtractEntities(ctx, text, 15)
package ai
