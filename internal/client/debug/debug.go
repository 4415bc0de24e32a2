package debug

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger that appends JSON lines to path when enabled. The
// terminal belongs to the UI, so nothing is ever written to stdout.
func New(enabled bool, path string) (*zap.Logger, error) {
	if !enabled {
		return zap.NewNop(), nil
	}
	if path == "" {
		path = "debug.log"
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(f),
		zap.DebugLevel,
	)
	return zap.New(core, zap.AddCaller()), nil
}
