package rules

var defaultStopWords = []string{
	// Chinese
	"的", "是", "在", "有", "和", "与", "或", "但", "而", "了", "也", "就", "都", "要",
	"可以", "能够", "应该", "必须", "需要", "可能", "或许", "也许", "如果", "因为",
	"所以", "因此", "然后", "接着", "最后", "首先", "其次", "另外", "此外", "同时",
	"不过", "然而", "虽然", "尽管", "除了", "除非", "只要", "只有", "无论", "不管",
	"通过", "根据", "按照", "依据", "基于", "关于", "对于", "针对", "面对", "朝向",

	// English
	"the", "and", "or", "but", "with", "for", "to", "of", "in", "on", "at",
	"by", "from", "as", "is", "are", "was", "were", "be", "been", "being",
	"have", "has", "had", "do", "does", "did", "will", "would", "could",
	"should", "may", "might", "can", "must", "shall", "this", "that",
	"these", "those", "a", "an", "some", "any", "all", "each", "every",
	"no", "not", "only", "just", "also", "even", "still", "yet", "already",
	"you", "your", "our", "their", "its", "she", "him", "her", "they", "them",
	"what", "which", "who", "when", "where", "how", "than", "then", "there",
	"here", "into", "about", "more", "most", "such", "very",
}
