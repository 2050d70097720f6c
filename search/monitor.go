package search

import (
	"github.com/poiesic/bizkb/core"
)

// SearchMonitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
// Hooks for related businesses are called from worker goroutines.
type SearchMonitor interface {
	Start(q Query)
	AfterPrimarySearch(businessID string, nodes []core.SearchNode)
	NoData(businessID string)
	DiscoveredRelated(related []core.Relation)
	RelatedSearched(businessID string, nodes []core.SearchNode)
	RelatedFailed(businessID string, err error)
	AfterMerge(nodes []core.SearchNode)
	UsageRecorded(used map[string]int)
	Finish(result *Result)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ Query)                                    {}
func (n *noopMonitor) AfterPrimarySearch(_ string, _ []core.SearchNode) {}
func (n *noopMonitor) NoData(_ string)                                  {}
func (n *noopMonitor) DiscoveredRelated(_ []core.Relation)              {}
func (n *noopMonitor) RelatedSearched(_ string, _ []core.SearchNode)    {}
func (n *noopMonitor) RelatedFailed(_ string, _ error)                  {}
func (n *noopMonitor) AfterMerge(_ []core.SearchNode)                   {}
func (n *noopMonitor) UsageRecorded(_ map[string]int)                   {}
func (n *noopMonitor) Finish(_ *Result)                                 {}
