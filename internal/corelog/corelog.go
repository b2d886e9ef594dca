// Package corelog provides the structured loggers shared by every core
// package. It wraps go-log/v2 the same way goop2's p2p node package
// configures it for libp2p subsystems, but hands out one named logger
// per package instead of a single global.
package corelog

import (
	logging "github.com/ipfs/go-log/v2"
)

func init() {
	// Quiet the libp2p subsystems this core pulls in transitively; their
	// dial/backoff chatter is not useful at the engine's default level.
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("autonat", "warn")
	logging.SetLogLevel("relay", "warn")
}

// Logger returns a named structured logger for the given package/component.
func Logger(name string) *logging.ZapEventLogger {
	return logging.Logger(name)
}

// SetLevel sets the log level for a named logger, e.g. "debug", "info", "warn", "error".
func SetLevel(name, level string) error {
	return logging.SetLogLevel(name, level)
}
