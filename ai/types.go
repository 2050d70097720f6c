package ai

// DefaultMaxEntities caps the entities extracted from a single document.
const DefaultMaxEntities = 15

// Extractor kinds selectable in Config.
const (
	// ExtractorRules selects the local rule-based extractor.
	ExtractorRules = "rules"
	// ExtractorLLM selects the chat-model extractor.
	ExtractorLLM = "llm"
)

// EntityCategories lists the kinds of entities the chat-model extractor is
// asked to look for. Categories guide the model; they are not returned.
var EntityCategories = []string{
	"product",
	"component",
	"organization",
	"team",
	"person",
	"place",
	"technology",
	"software",
	"standard",
	"process",
	"metric",
	"regulation",
	"business_domain",
}
