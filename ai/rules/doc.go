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

// Package rules provides a local entity extractor driven by lexical patterns.
//
// It recognizes runs of 2-8 CJK characters, Latin words of at least three
// letters, numbers followed by a CJK unit, and mixed Latin/CJK terms. Stop
// words are dropped, duplicates are collapsed and longer entities win when
// the result is capped.
package rules
