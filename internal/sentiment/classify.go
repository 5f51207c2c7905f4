package sentiment

import "strings"

var newsSources = []string{
	"news", "article", "press", "headline", "coindesk", "cointelegraph",
	"reuters", "bloomberg", "feed", "rss",
}

var socialSources = []string{
	"twitter", "x.com", "reddit", "telegram", "discord", "social",
	"stocktwits", "forum",
}

// classifySource buckets an observation by source-name matching. Anything
// that is neither news nor social counts as market data (funding, flows,
// on-chain feeds).
func classifySource(source string) Category {
	s := strings.ToLower(strings.TrimSpace(source))
	for _, kw := range newsSources {
		if strings.Contains(s, kw) {
			return CategoryNews
		}
	}
	for _, kw := range socialSources {
		if strings.Contains(s, kw) {
			return CategorySocial
		}
	}
	return CategoryMarket
}
