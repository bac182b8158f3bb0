package tracking

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints. Responses never reveal
// whether a token was valid: an open always returns the pixel, a click
// always redirects, an unsubscribe always renders the confirmation page.
type Handler struct {
	svc   *Service
	codec *Codec
}

func NewHandler(svc *Service, codec *Codec) *Handler {
	return &Handler{svc: svc, codec: codec}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{token}/{sig}", h.HandleOpen)
	r.Get("/track/click/{token}/{sig}", h.HandleClick)
	r.Get("/track/unsubscribe/{token}/{sig}", h.HandleUnsubscribe)
	r.Post("/track/unsubscribe/{token}/{sig}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sig := chi.URLParam(r, "sig")

	if h.codec.VerifyOpen(token, sig) {
		if err := h.svc.Open(r.Context(), token, meta(r)); err != nil && err != ErrUnknownToken {
			logger.Error("open tracking failed", "error", err.Error())
		}
	}
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sig := chi.URLParam(r, "sig")
	target := r.URL.Query().Get("url")
	pos, _ := strconv.Atoi(r.URL.Query().Get("pos"))

	if !validRedirect(target) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if h.codec.VerifyClick(token, target, pos, sig) {
		if err := h.svc.Click(r.Context(), token, target, pos, meta(r)); err != nil && err != ErrUnknownToken {
			logger.Error("click tracking failed", "error", err.Error())
		}
	}
	// The recipient always reaches their destination.
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sig := chi.URLParam(r, "sig")

	if h.codec.VerifyUnsubscribe(token, sig) {
		if err := h.svc.Unsubscribe(r.Context(), token, meta(r)); err != nil && err != ErrUnknownToken {
			logger.Error("unsubscribe failed", "error", err.Error())
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func meta(r *http.Request) RequestMeta {
	return RequestMeta{IP: realIP(r), UserAgent: r.UserAgent()}
}

// validRedirect rejects targets that are not absolute http(s) URLs so the
// redirect endpoint cannot be abused for javascript: or scheme-relative
// destinations.
func validRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
