package gateway

import (
	"encoding/json"
	"net/http"
	"slices"

	logs "github.com/danmuck/smplog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
)

// wsHandler accepts a stream of JSON chunk messages on one socket and
// answers each with a transport.Reply.
type wsHandler struct {
	gw       *Gateway
	upgrader websocket.Upgrader
}

func newWSHandler(g *Gateway, origins []string) *wsHandler {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return &wsHandler{
		gw: g,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(origins, origin)
			},
		},
	}
}

func (h *wsHandler) serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logs.Debugf("gateway.ws upgrade failed err=%v", err)
		return
	}
	defer conn.Close()
	ctx := c.Request.Context()
	logs.Infof("gateway.ws connected remote=%s", c.Request.RemoteAddr)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logs.Warnf("gateway.ws closed remote=%s err=%v", c.Request.RemoteAddr, err)
			}
			return
		}
		var m chunk.Message
		if err := json.Unmarshal(data, &m); err != nil {
			if werr := conn.WriteJSON(errorReply(0, err)); werr != nil {
				return
			}
			continue
		}
		if m.TxID == "" {
			m.TxID = DefaultTxKey
		}
		out, err := h.gw.HandleMessage(ctx, SourceWS, m)
		reply := okReply(out)
		if err != nil {
			reply = errorReply(m.Index, err)
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}
	}
}
