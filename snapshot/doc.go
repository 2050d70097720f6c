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

// Package snapshot persists JSON documents with backup-before-write and
// atomic replacement.
//
// Every Save first copies the current file into a backup directory under a
// timestamped name, then writes the new content to a temporary file in the
// same directory and renames it over the target. A file that cannot be
// decoded on Load is moved aside into the backup directory so the caller can
// start from an empty value instead of failing.
package snapshot
