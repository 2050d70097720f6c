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

// Package docproc turns files on disk into plain text for entity extraction
// and indexing.
//
// FileProcessor dispatches on the file extension: plain text and source files
// are read as-is, Markdown has its syntax stripped, HTML is reduced to its
// visible text and CSV rows are flattened to lines.
package docproc
