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

import (
	"fmt"
	"strings"
	"unicode"
)

// maxBusinessIDLength keeps collection names within common index-store limits.
const maxBusinessIDLength = 64

// BackupDirName is the base-directory entry receiving timestamped backups.
// Business directories live beside it, so no business may use the name.
const BackupDirName = "backups"

// reservedBusinessIDs are base-directory entries other than business
// directories. Matching ignores case for case-insensitive filesystems.
var reservedBusinessIDs = []string{BackupDirName}

// ValidateBusinessID validates a business ID according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - ID must be at most 64 characters
//   - ID may contain letters, digits, '_' and '-' only, since it names a
//     directory and an index-store collection
//   - ID must not name another base-directory entry such as "backups"
func ValidateBusinessID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: %w", ErrInvalidBusinessID, ErrEmptyBusinessID)
	}
	if len(id) > maxBusinessIDLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidBusinessID, maxBusinessIDLength)
	}
	if strings.IndexFunc(id, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
	}) >= 0 {
		return fmt.Errorf("%w: %q contains unsupported characters", ErrInvalidBusinessID, id)
	}
	for _, reserved := range reservedBusinessIDs {
		if strings.EqualFold(id, reserved) {
			return fmt.Errorf("%w: %w: %q", ErrInvalidBusinessID, ErrReservedBusinessID, id)
		}
	}
	return nil
}

// ValidateDocStatus reports whether s is a known document status.
func ValidateDocStatus(s DocStatus) bool {
	switch s {
	case DocStatusActive, DocStatusDeleted, DocStatusCorrupted:
		return true
	}
	return false
}
