package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Websocket close codes carry the gRPC status code offset into the private range.
const closeCodeBase = 4000

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamOpen is the first message of a websocket stream.
type StreamOpen struct {
	RawTransaction string `json:"raw_transaction"`
	BlockSize      uint32 `json:"block_size"`
}

// streamHandler serves StreamSong to browsers: after a StreamOpen text message
// each block arrives as one binary message, and the server closes with a
// normal closure at end of content or closeCodeBase+code on failure.
func (a *httpAPI) streamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.opts.Limiter != nil && !a.opts.Limiter.Allow(hostOf(r.RemoteAddr)) {
			writeStatus(w, status.Error(codes.ResourceExhausted, "rate limit exceeded"))
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetReadLimit(maxBodySize)
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var open StreamOpen
		if err := conn.ReadJSON(&open); err != nil {
			closeWith(conn, status.Error(codes.InvalidArgument, "invalid open message"))
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		ctx := r.Context()
		st, err := a.transfer.StreamSong(ctx, r.RemoteAddr, []byte(open.RawTransaction), int(open.BlockSize))
		if err != nil {
			closeWith(conn, toStatus(err))
			return
		}
		defer st.Close()

		// A reader is needed to notice the peer going away.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					st.Close()
					return
				}
			}
		}()

		for {
			block, err := st.Next()
			if errors.Is(err, io.EOF) {
				closeWith(conn, nil)
				return
			}
			if err != nil {
				closeWith(conn, toStatus(err))
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, block); err != nil {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, err error) {
	code, text := websocket.CloseNormalClosure, ""
	if err != nil {
		st := status.Convert(err)
		code, text = closeCodeBase+int(st.Code()), st.Message()
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
