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

// Package relation maintains the weighted, symmetric graph of related
// businesses.
//
// Edges come from two sources. Entity overlap: when a business gains
// entities, every other business sharing one of them is linked with the
// Jaccard similarity of the two entity sets, merged with max. Query usage:
// every cross-business search adds a bounded increment to the edges it used.
// Edges are never decayed; they only disappear when a business is removed.
//
// Both directions of an edge share one in-memory value, so weight and
// shared entities are equal from either side by construction.
package relation
