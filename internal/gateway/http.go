package gateway

import (
	"errors"
	"net/http"
	"time"

	logs "github.com/danmuck/smplog"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/observability"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/protocol/chunk"
	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/transport"
)

// DefaultTxKey files JSON chunks that name no tx id.
const DefaultTxKey = "default"

type RouterConfig struct {
	// Node labels HTTP metrics.
	Node        string
	CorsOrigins []string
}

// NewRouter serves the gateway HTTP API on a gin engine.
func NewRouter(g *Gateway, rc RouterConfig) *gin.Engine {
	observability.RegisterMetrics()
	if rc.Node == "" {
		rc.Node = "gateway"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(*logs.Zerolog()))
	r.Use(observability.RequestMetricsMiddleware(rc.Node))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(rc.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(started).String(),
			"component": "btxgateway",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := &api{gw: g, ws: newWSHandler(g, rc.CorsOrigins)}
	r.POST(transport.ChunkPath, api.postChunk)
	r.POST(transport.TxPath, api.postTx)
	r.GET(transport.StatusPath, api.status)
	r.GET("/api/pending", api.pending)
	r.GET(transport.WSPath, api.ws.serve)
	return r
}

type api struct {
	gw *Gateway
	ws *wsHandler
}

func (a *api) postChunk(c *gin.Context) {
	var m chunk.Message
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, errorReply(0, err))
		return
	}
	if m.TxID == "" {
		m.TxID = DefaultTxKey
	}
	out, err := a.gw.HandleMessage(c.Request.Context(), SourceHTTP, m)
	if err != nil {
		c.JSON(statusFor(err), errorReply(m.Index, err))
		return
	}
	c.JSON(http.StatusOK, okReply(out))
}

func (a *api) postTx(c *gin.Context) {
	var req transport.TxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorReply(0, err))
		return
	}
	tx, err := a.gw.SubmitTx(c.Request.Context(), SourceHTTP, req.TxHex)
	if err != nil {
		c.JSON(statusFor(err), errorReply(0, err))
		return
	}
	c.JSON(http.StatusOK, transport.Reply{Status: transport.ReplyOK, TxID: tx.TxID, Message: "Transaction queued"})
}

func (a *api) status(c *gin.Context) {
	c.JSON(http.StatusOK, a.gw.Status())
}

func (a *api) pending(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pending": a.gw.Pending()})
}

func okReply(out Outcome) transport.Reply {
	r := transport.Reply{Status: transport.ReplyOK, Chunk: out.Index}
	if out.Tx != nil {
		r.TxID = out.Tx.TxID
		r.Message = "Transaction queued"
	}
	return r
}

func errorReply(index int, err error) transport.Reply {
	return transport.Reply{Status: transport.ReplyError, Chunk: index, Message: err.Error()}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chunk.ErrMalformedChunk),
		errors.Is(err, ErrEmptyTx),
		errors.Is(err, ErrInvalidHex):
		return http.StatusBadRequest
	case errors.Is(err, chunk.ErrChunkConflict),
		errors.Is(err, chunk.ErrTotalMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrTxTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
