package wsfeed

import (
	"net/http"

	"github.com/gorilla/websocket"
)

func httpHandler(fn func(conn *websocket.Conn), up *websocket.Upgrader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	})
}
