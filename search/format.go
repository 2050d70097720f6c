package search

import (
	"fmt"
	"strings"

	"github.com/poiesic/bizkb/core"
)

// compactLimit is how many merged hits a compact response lists.
const compactLimit = 5

func noDataResponse(businessName string) string {
	return fmt.Sprintf("Business %q has no indexed documents yet.", businessName)
}

func noMatchResponse(query string) string {
	return fmt.Sprintf("No information related to %q was found.", query)
}

func compactResponse(query, primaryID string, nodes []core.SearchNode) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n\n", query)
	for i, n := range nodes[:min(compactLimit, len(nodes))] {
		if n.BusinessID != primaryID {
			fmt.Fprintf(&b, "%d. [from %s] %s\n\n", i+1, n.BusinessName, excerpt(n.Text))
		} else {
			fmt.Fprintf(&b, "%d. %s\n\n", i+1, excerpt(n.Text))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func sectionResponse(sec *Section) string {
	if len(sec.Nodes) == 0 {
		return fmt.Sprintf("Nothing relevant found in %q.", sec.BusinessName)
	}
	var b strings.Builder
	if sec.Primary {
		fmt.Fprintf(&b, "Found in primary business %q:\n\n", sec.BusinessName)
	} else {
		fmt.Fprintf(&b, "Found in related business %q (weight %.2f):\n\n", sec.BusinessName, sec.RelationWeight)
	}
	for i, n := range sec.Nodes {
		fmt.Fprintf(&b, "%d. (score %.4f) %s\n\n", i+1, n.Score, excerpt(n.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}

func detailedResponse(query string, sections []Section) string {
	parts := make([]string, 0, len(sections)+1)
	parts = append(parts, fmt.Sprintf("Detailed results for %q:", query))
	for i := range sections {
		parts = append(parts, sections[i].Response)
	}
	return strings.Join(parts, "\n\n")
}
