package tracking

import "strings"

// BotDetector filters scanner and link-preview traffic out of engagement
// tracking so prefetchers don't inflate open and click counts.
type BotDetector struct {
	patterns []string
}

func NewBotDetector() *BotDetector {
	return &BotDetector{
		patterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

// IsBot reports whether the user agent looks automated.
func (bd *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, p := range bd.patterns {
		if strings.Contains(ua, p) {
			return true
		}
	}
	return false
}
