package storefront

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/mysterybooks/storefront/internal/platform/requestctx"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var pageTemplates = template.Must(template.New("_root").ParseFS(templateFS, "templates/*.html.tmpl"))

// render buffers the base layout and writes it with status.
func render(w http.ResponseWriter, r *http.Request, status int, data pageData) {
	data.CSRFToken = requestctx.CSRFToken(r.Context())
	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, "base", data); err != nil {
		requestctx.Logger(r.Context()).Error("template exec failed", zap.Error(err), zap.String("page", data.Page))
		http.Error(w, fmt.Sprintf("template exec error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
