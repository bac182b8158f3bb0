package tracking

import (
	"net/url"
	"strings"
	"testing"
)

func TestTokenDeterministic(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")

	t1 := c.Token("c1", "a@example.com")
	t2 := c.Token("c1", "a@example.com")
	if t1 != t2 {
		t.Fatalf("token not deterministic: %s != %s", t1, t2)
	}
	if len(t1) != 32 {
		t.Fatalf("token length = %d, want 32", len(t1))
	}
	if c.Token("c2", "a@example.com") == t1 {
		t.Fatalf("token does not vary by campaign")
	}
	if c.Token("c1", "b@example.com") == t1 {
		t.Fatalf("token does not vary by address")
	}
	if strings.Contains(t1, "@") {
		t.Fatalf("token leaks address: %s", t1)
	}
}

func TestSignatureVerification(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")
	token := c.Token("c1", "a@example.com")

	pixel := c.PixelURL(token)
	parts := strings.Split(pixel, "/")
	sig := parts[len(parts)-1]
	if !c.VerifyOpen(token, sig) {
		t.Fatalf("valid open signature rejected")
	}
	if c.VerifyOpen(token, "0000000000000000") {
		t.Fatalf("forged open signature accepted")
	}

	// A signature from a different key never verifies.
	other := NewCodec("other-key", "https://t.example.com")
	if other.VerifyOpen(token, sig) {
		t.Fatalf("cross-key signature accepted")
	}

	// Click signatures bind the target and position.
	clickSig := sigFromURL(t, c.ClickURL(token, "https://example.com/x", 2))
	if !c.VerifyClick(token, "https://example.com/x", 2, clickSig) {
		t.Fatalf("valid click signature rejected")
	}
	if c.VerifyClick(token, "https://evil.example.com", 2, clickSig) {
		t.Fatalf("click signature valid for a different target")
	}
	if c.VerifyClick(token, "https://example.com/x", 3, clickSig) {
		t.Fatalf("click signature valid for a different position")
	}
}

func sigFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	segs := strings.Split(u.Path, "/")
	return segs[len(segs)-1]
}

func TestInjectTracking(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")
	token := c.Token("c1", "a@example.com")

	html := `<html><body><a href="https://example.com/a">A</a> <a href="https://example.com/b">B</a></body></html>`
	out := c.InjectTracking(html, token)

	if strings.Contains(out, `href="https://example.com/a"`) {
		t.Fatalf("link not rewritten: %s", out)
	}
	if !strings.Contains(out, "/track/click/"+token+"/") {
		t.Fatalf("no tracked click URL injected")
	}
	if !strings.Contains(out, "pos=0") || !strings.Contains(out, "pos=1") {
		t.Fatalf("link positions not numbered: %s", out)
	}
	if !strings.Contains(out, "/track/open/"+token+"/") {
		t.Fatalf("no open pixel injected")
	}
	if !strings.HasSuffix(out, "</body></html>") {
		t.Fatalf("pixel not placed before </body>")
	}
}

func TestInjectTrackingNoBodyTag(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")
	token := c.Token("c1", "a@example.com")

	out := c.InjectTracking(`<p>hello</p>`, token)
	if !strings.Contains(out, "/track/open/") {
		t.Fatalf("pixel missing when body tag absent")
	}
}

func TestInjectSkipsTrackingLinks(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")
	token := c.Token("c1", "a@example.com")
	unsub := c.UnsubscribeURL(token)

	html := `<body><a href="` + unsub + `">unsubscribe</a></body>`
	out := c.InjectTracking(html, token)
	if !strings.Contains(out, `href="`+unsub+`"`) {
		t.Fatalf("unsubscribe link was rewritten: %s", out)
	}
}

func TestUnsubscribeHeaders(t *testing.T) {
	c := NewCodec("secret", "https://t.example.com")
	token := c.Token("c1", "a@example.com")

	h := c.UnsubscribeHeaders(token)
	if !strings.HasPrefix(h["List-Unsubscribe"], "<https://t.example.com/track/unsubscribe/") {
		t.Fatalf("List-Unsubscribe = %q", h["List-Unsubscribe"])
	}
	if h["List-Unsubscribe-Post"] != "List-Unsubscribe=One-Click" {
		t.Fatalf("List-Unsubscribe-Post = %q", h["List-Unsubscribe-Post"])
	}
}
