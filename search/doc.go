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

// Package search answers queries against one business and, optionally,
// the businesses the relation graph links it to.
//
// A query runs through these stages:
//   - SearchPrimary: search the primary business's collection. A missing
//     or empty collection ends the query with a "no data" result.
//   - DiscoverRelated: ask the relation graph for the strongest neighbours.
//   - SearchRelated: search every neighbour concurrently under a shared
//     deadline. A failing neighbour is logged and left out.
//   - Merge: in compact mode all hits are ranked together by
//     score*(1+relationWeight); detailed mode keeps one section per business.
//   - RecordUsage: neighbours that contributed hits get a stronger edge.
//
// A SearchMonitor observes every stage. The Searcher keeps a bounded
// in-memory history of queries for Statistics.
package search
