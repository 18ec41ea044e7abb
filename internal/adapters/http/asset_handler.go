package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3-lines-studio/kiln/internal/core"
)

const internalPrefix = "__kiln/"

// Snapshotter returns the artifact set to serve. It must never return a set
// that is still being assembled.
type Snapshotter interface {
	Snapshot() *core.ArtifactSet
}

// AssetHandler serves the current artifact set under a base path together
// with the live-reload, status and metrics endpoints.
type AssetHandler struct {
	base    string
	source  Snapshotter
	broker  *Broker
	status  func() any
	metrics http.Handler
}

func NewAssetHandler(base string, source Snapshotter, broker *Broker, status func() any) *AssetHandler {
	if broker == nil {
		broker = NewBroker()
	}
	return &AssetHandler{
		base:    core.NormalizeBase(base),
		source:  source,
		broker:  broker,
		status:  status,
		metrics: promhttp.Handler(),
	}
}

func (h *AssetHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path+"/" == h.base {
		http.Redirect(w, req, h.base, http.StatusMovedPermanently)
		return
	}
	if !strings.HasPrefix(req.URL.Path, h.base) {
		http.NotFound(w, req)
		return
	}
	rel := strings.TrimPrefix(req.URL.Path, h.base)

	switch rel {
	case internalPrefix + "events":
		h.broker.ServeSSE(w, req)
		return
	case internalPrefix + "ws":
		h.broker.ServeWS(w, req)
		return
	case internalPrefix + "metrics":
		h.metrics.ServeHTTP(w, req)
		return
	case internalPrefix + "status":
		h.serveStatus(w)
		return
	}

	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}
	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	artifact, ok := h.source.Snapshot().Get(rel)
	if !ok {
		http.NotFound(w, req)
		return
	}

	content := artifact.Content
	if path.Ext(rel) == ".html" {
		content = []byte(appendReloadScript(string(content), h.base+internalPrefix+"events"))
	}

	w.Header().Set("Content-Type", core.GetContentType(rel))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("ETag", `"`+core.HashContent(content)+`"`)
	http.ServeContent(w, req, rel, time.Time{}, bytes.NewReader(content))
}

func (h *AssetHandler) serveStatus(w http.ResponseWriter) {
	var status any = map[string]any{}
	if h.status != nil {
		status = h.status()
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(status)
}
