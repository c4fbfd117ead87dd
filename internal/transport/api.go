package transport

// Gateway HTTP API paths.
const (
	ChunkPath  = "/api/chunk"
	TxPath     = "/api/tx"
	StatusPath = "/api/status"
	WSPath     = "/api/ws"
)

const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Status is the gateway status document.
type Status struct {
	Status        string `json:"status"`
	MeshConnected bool   `json:"mesh_connected"`
	PendingTxs    int    `json:"pending_txs"`
}

// Reply answers one chunk or transaction submission. Chunk echoes the
// chunk index it acknowledges.
type Reply struct {
	Status  string `json:"status"`
	Chunk   int    `json:"chunk,omitempty"`
	TxID    string `json:"tx_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// TxRequest submits a whole hex transaction.
type TxRequest struct {
	TxHex string `json:"tx_hex"`
}
