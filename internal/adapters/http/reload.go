package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/3-lines-studio/kiln/internal/metrics"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// Event is broadcast to live-reload clients. Type is "reload" after a
// successful recomputation and "error" when an asset failed.
type Event struct {
	Type    string `json:"type"`
	Version uint64 `json:"version"`
	Asset   string `json:"asset,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Broker fans events out to subscribers. Slow subscribers drop events
// rather than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	metrics.ReloadClients.Inc()
	return ch
}

func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
		metrics.ReloadClients.Dec()
	}
	b.mu.Unlock()
}

func (b *Broker) Notify(evt Event) {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) ServeSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + evt.Type + "\ndata: " + string(data) + "\n\n"))
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS streams events as JSON messages over a websocket.
func (b *Broker) ServeWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	if err := b.writeWS(conn, Event{Type: "ready"}); err != nil {
		return
	}
	for {
		select {
		case <-req.Context().Done():
			return
		case <-closed:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := b.writeWS(conn, evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broker) writeWS(conn *websocket.Conn, evt Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(evt)
}

const reloadMarker = "__kiln_reload"

func reloadScript(eventsURL string) string {
	return `<script id="` + reloadMarker + `">(() => {
  const source = new EventSource(` + jsString(eventsURL) + `);
  source.addEventListener("reload", () => location.reload());
  source.addEventListener("error", (e) => { if (e.data) console.error("kiln:", JSON.parse(e.data).error); });
})();</script>`
}

func appendReloadScript(html, eventsURL string) string {
	if strings.Contains(html, reloadMarker) {
		return html
	}

	script := reloadScript(eventsURL)

	if strings.Contains(html, "</body>") {
		return strings.Replace(html, "</body>", script+"</body>", 1)
	}

	return html + script
}

func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
