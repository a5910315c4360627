package handlers

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"
)

// @Summary      Board log stream
// @Description  Server-sent events from the board's web server (/events), with its Basic auth credentials injected.
// @Tags         boards
// @Produce      text/event-stream
// @Param        name  path  string  true  "Board name"
// @Success      200
// @Failure      404  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/boards/{name}/logs [get]
// @Security     BearerAuth
func (h *Handler) boardLogs(c *gin.Context) {
	ep, err := h.services.Boards.Endpoint(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.respondServiceError(c, "board_logs_lookup_failed", err, "board", c.Param("name"))
		return
	}
	target, err := url.Parse(ep.BaseURL)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errInternal, "board_logs_bad_url", err, "url", ep.BaseURL)
		return
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.Out.URL.Path = "/events"
			r.Out.URL.RawPath = ""
			r.Out.URL.RawQuery = ""
			r.Out.Host = target.Host
			r.Out.Header.Del("Authorization")
			r.Out.Header.Set("Accept", "text/event-stream")
			if ep.Username != "" && ep.Password != "" {
				r.Out.SetBasicAuth(ep.Username, ep.Password)
			}
		},
		// events must reach the client as they arrive
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			h.logAndJSONError(c, http.StatusBadGateway, "board web server unreachable", "board_logs_proxy_failed", err,
				"board", c.Param("name"))
		},
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}
