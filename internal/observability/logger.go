package observability

import (
	logs "github.com/danmuck/smplog"

	"github.com/Silexperience210/BitcoinLoRa-MeshGateway/internal/logging"
)

// InitLogger configures the process logger, tags it with app and returns
// it for components that take a logger directly.
func InitLogger(app string) logs.Logger {
	logging.ConfigureRuntime()
	logger := logs.With().Str("app", app).Logger()
	logs.SetLogger(logger)
	return logger
}
