package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3-lines-studio/kiln/internal/core"
)

type staticSource struct {
	set atomic.Pointer[core.ArtifactSet]
}

func (s *staticSource) Snapshot() *core.ArtifactSet { return s.set.Load() }

func newSource(artifacts ...core.Artifact) *staticSource {
	s := &staticSource{}
	s.set.Store(core.NewArtifactSet(1, artifacts))
	return s
}

func TestAssetHandlerServesArtifacts(t *testing.T) {
	src := newSource(
		core.Artifact{Path: "index.html", Content: []byte("<html><body><h1>hi</h1></body></html>")},
		core.Artifact{Path: "index.js", Content: []byte("console.log(1)")},
		core.Artifact{Path: "modules/core-0123abcd.wasm", Content: []byte("\x00asm")},
	)
	h := NewAssetHandler("/app/", src, nil, nil)

	tests := []struct {
		path        string
		status      int
		contentType string
		body        string
	}{
		{"/app/index.js", http.StatusOK, "application/javascript", "console.log(1)"},
		{"/app/modules/core-0123abcd.wasm", http.StatusOK, "application/wasm", "\x00asm"},
		{"/app/missing.js", http.StatusNotFound, "", ""},
		{"/index.js", http.StatusNotFound, "", ""},
		{"/app/./index.js", http.StatusOK, "application/javascript", "console.log(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "http://localhost"+tt.path, nil)
			req.URL.Path = tt.path
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, rec.Header().Get("Content-Type"), tt.contentType)
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestAssetHandlerIndexFallbackInjectsReload(t *testing.T) {
	src := newSource(core.Artifact{Path: "index.html", Content: []byte("<html><body><h1>hi</h1></body></html>")})
	h := NewAssetHandler("/app/", src, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `new EventSource("/app/__kiln/events")`)
	assert.True(t, strings.HasSuffix(body, "</script></body></html>"))
	assert.Equal(t, 1, strings.Count(body, reloadMarker))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/app/", rec.Header().Get("Location"))
}

func TestAssetHandlerConditionalGet(t *testing.T) {
	h := NewAssetHandler("/", newSource(core.Artifact{Path: "index.css", Content: []byte("body{}")}), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.css", nil))
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/index.css", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestAssetHandlerFollowsSnapshot(t *testing.T) {
	src := newSource(core.Artifact{Path: "index.css", Content: []byte("a{}")})
	h := NewAssetHandler("/", src, nil, nil)

	src.set.Store(core.NewArtifactSet(2, []core.Artifact{{Path: "index.css", Content: []byte("b{}")}}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.css", nil))
	assert.Equal(t, "b{}", rec.Body.String())
}

func TestAssetHandlerStatus(t *testing.T) {
	h := NewAssetHandler("/", newSource(), nil, func() any {
		return map[string]any{"version": 3}
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__kiln/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(3), got["version"])
}

func TestAssetHandlerMetrics(t *testing.T) {
	h := NewAssetHandler("/", newSource(), nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__kiln/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiln_reload_clients")
}

func TestAssetHandlerRejectsWrites(t *testing.T) {
	h := NewAssetHandler("/", newSource(core.Artifact{Path: "a.js"}), nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/a.js", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSSEReceivesEvents(t *testing.T) {
	broker := NewBroker()
	srv := httptest.NewServer(NewAssetHandler("/", newSource(), broker, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/__kiln/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	event, _ := readEvent()
	require.Equal(t, "ready", event)

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	broker.Notify(Event{Type: "reload", Version: 7})

	event, data := readEvent()
	assert.Equal(t, "reload", event)
	var evt Event
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, uint64(7), evt.Version)
}

func TestWebsocketReceivesEvents(t *testing.T) {
	broker := NewBroker()
	srv := httptest.NewServer(NewAssetHandler("/", newSource(), broker, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/__kiln/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, "ready", evt.Type)

	require.Eventually(t, func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	broker.Notify(Event{Type: "error", Version: 2, Asset: "/p/base.sass", Error: "boom"})

	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, Event{Type: "error", Version: 2, Asset: "/p/base.sass", Error: "boom"}, evt)
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())
	b.Notify(Event{Type: "reload"})
}

func TestAppendReloadScript(t *testing.T) {
	html := appendReloadScript("<p>no body</p>", "/__kiln/events")
	assert.True(t, strings.HasPrefix(html, "<p>no body</p><script"))
	assert.Equal(t, html, appendReloadScript(html, "/__kiln/events"))
}
