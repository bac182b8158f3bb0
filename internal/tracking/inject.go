package tracking

import (
	"fmt"
	"strings"
)

// InjectTracking rewrites a rendered HTML body for a recipient: every http(s)
// link becomes a tracked redirect (numbered by position), and the open pixel
// is inserted before </body>, or appended when the body has no closing tag.
func (c *Codec) InjectTracking(html, token string) string {
	html = c.rewriteLinks(html, token)

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`, c.PixelURL(token))
	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", pixel+"</body>", 1)
	}
	return html + pixel
}

// rewriteLinks replaces href targets with tracked click URLs. Links already
// pointing at a tracking path are left alone.
func (c *Codec) rewriteLinks(html, token string) string {
	var b strings.Builder
	pos := 0
	rest := html
	for {
		i := strings.Index(rest, `href="http`)
		if i == -1 {
			b.WriteString(rest)
			break
		}
		i += len(`href="`)
		b.WriteString(rest[:i])
		rest = rest[i:]

		j := strings.Index(rest, `"`)
		if j == -1 {
			b.WriteString(rest)
			break
		}
		target := rest[:j]
		rest = rest[j:]

		if strings.Contains(target, "/track/") {
			b.WriteString(target)
			continue
		}
		b.WriteString(c.ClickURL(token, target, pos))
		pos++
	}
	return b.String()
}

// UnsubscribeHeaders returns the List-Unsubscribe headers for a message.
func (c *Codec) UnsubscribeHeaders(token string) map[string]string {
	return map[string]string{
		"List-Unsubscribe":      fmt.Sprintf("<%s>", c.UnsubscribeURL(token)),
		"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
	}
}
