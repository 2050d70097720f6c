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

package rules

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/bizkb/ai"
)

var (
	cjkRun     = regexp.MustCompile(`\p{Han}{2,8}`)
	latinWord  = regexp.MustCompile(`[A-Za-z]{3,}`)
	numberUnit = regexp.MustCompile(`\d+\p{Han}{1,3}`)
	mixedTerm  = regexp.MustCompile(`[A-Za-z]+\p{Han}+|\p{Han}+[A-Za-z]+`)
)

// Extractor implements ai.EntityExtractor without any external service.
type Extractor struct {
	stopWords map[string]struct{}
}

var _ ai.EntityExtractor = (*Extractor)(nil)

// NewExtractor returns an extractor using the built-in stop word list plus
// any extra stop words given.
func NewExtractor(extraStopWords ...string) *Extractor {
	stop := make(map[string]struct{}, len(defaultStopWords)+len(extraStopWords))
	for _, w := range defaultStopWords {
		stop[w] = struct{}{}
	}
	for _, w := range extraStopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	return &Extractor{stopWords: stop}
}

// ExtractEntities returns up to maxEntities entities, longest first.
// Latin entities are lowercased so the same term matches across documents.
func (e *Extractor) ExtractEntities(ctx context.Context, text string, maxEntities int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxEntities <= 0 {
		maxEntities = ai.DefaultMaxEntities
	}

	var candidates []string
	for _, re := range []*regexp.Regexp{cjkRun, latinWord, numberUnit, mixedTerm} {
		candidates = append(candidates, re.FindAllString(text, -1)...)
	}

	seen := make(map[string]struct{}, len(candidates))
	entities := make([]string, 0, len(candidates))
	for _, c := range candidates {
		c = strings.ToLower(strings.TrimSpace(c))
		if utf8.RuneCountInString(c) < 2 {
			continue
		}
		if _, stop := e.stopWords[c]; stop {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		entities = append(entities, c)
	}

	slices.SortStableFunc(entities, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	return entities, nil
}
