package httpapi

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"inferbridge/pkg/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin accepts same-origin upgrades, requests without an Origin
// header, and origins allowed by the CORS configuration.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	return originAllowed(origin)
}

// serveEvents pushes status, progress and error notifications over a
// WebSocket. The first message is always the current status.
func serveEvents(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			return
		}
		defer conn.Close()
		ch, unsubscribe := svc.Subscribe()
		defer unsubscribe()
		eventSubscribers.Inc()
		defer eventSubscribers.Dec()

		send := func(n types.Notification) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(n)
		}
		st := svc.Status()
		if err := send(types.Notification{Type: types.NotifyStatus, Status: st.Status, Error: st.LastError, TimeUnix: time.Now().Unix()}); err != nil {
			return
		}

		// The client never sends anything meaningful; reading keeps pong and
		// close handling alive and tells us when it goes away.
		gone := make(chan struct{})
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(wsWriteWait))
					return
				}
				if err := send(n); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			case <-gone:
				return
			case <-serverBaseCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteWait))
				return
			}
		}
	}
}
