package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	"deepseek-chat/internal/web"
	"deepseek-chat/pkg/logging"
)

type PageHandler struct {
	tmpl   *template.Template
	name   string
	data   web.PageData
	logger *logging.Logger
}

func NewPageHandler(tmpl *template.Template, name string, data web.PageData, logger *logging.Logger) *PageHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PageHandler{tmpl: tmpl, name: name, data: data, logger: logger}
}

// Home renders the chat page. Rendering goes through a buffer so a failed
// template never sends a partial page.
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.tmpl.ExecuteTemplate(&buf, h.name, h.data); err != nil {
		h.logger.Error("render page failed", "template", h.name, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp(msgInternal))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
