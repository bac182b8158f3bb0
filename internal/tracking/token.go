package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
)

// Codec derives correlation tokens and signs tracking URLs. Tokens are
// deterministic per (campaign, address) so that re-running the worker after
// a crash regenerates the same token instead of orphaning the old one. The
// recipient address never appears in a URL.
type Codec struct {
	key     []byte
	baseURL string
}

// NewCodec creates a codec. baseURL is the public tracking endpoint root,
// e.g. "https://t.example.com".
func NewCodec(signingKey, baseURL string) *Codec {
	return &Codec{key: []byte(signingKey), baseURL: baseURL}
}

// Token derives the correlation token for a delivery record.
func (c *Codec) Token(campaignID, address string) string {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(campaignID + "|" + address))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// sign produces a short URL signature over data.
func (c *Codec) sign(data string) string {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// verify checks a URL signature in constant time.
func (c *Codec) verify(data, sig string) bool {
	return hmac.Equal([]byte(c.sign(data)), []byte(sig))
}

// PixelURL returns the open-tracking pixel URL for a token.
func (c *Codec) PixelURL(token string) string {
	return fmt.Sprintf("%s/track/open/%s/%s", c.baseURL, token, c.sign("open|"+token))
}

// ClickURL returns the tracked redirect URL for a link. pos is the link's
// position index within the message body.
func (c *Codec) ClickURL(token, target string, pos int) string {
	sig := c.sign("click|" + token + "|" + target + "|" + strconv.Itoa(pos))
	return fmt.Sprintf("%s/track/click/%s/%s?url=%s&pos=%d",
		c.baseURL, token, sig, url.QueryEscape(target), pos)
}

// UnsubscribeURL returns the one-click unsubscribe URL for a token.
func (c *Codec) UnsubscribeURL(token string) string {
	return fmt.Sprintf("%s/track/unsubscribe/%s/%s", c.baseURL, token, c.sign("unsub|"+token))
}

// VerifyOpen checks an open pixel signature.
func (c *Codec) VerifyOpen(token, sig string) bool {
	return c.verify("open|"+token, sig)
}

// VerifyClick checks a click redirect signature.
func (c *Codec) VerifyClick(token, target string, pos int, sig string) bool {
	return c.verify("click|"+token+"|"+target+"|"+strconv.Itoa(pos), sig)
}

// VerifyUnsubscribe checks an unsubscribe signature.
func (c *Codec) VerifyUnsubscribe(token, sig string) bool {
	return c.verify("unsub|"+token, sig)
}
