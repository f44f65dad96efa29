// Package provider implements the Provider fan-out and lifecycle glue of
// §4.5: it composes a Document, an Awareness engine, a Transport Manager
// and a local broadcast bus into one cooperating unit bound to a single
// room, routing inbound frames and fanning local changes out to both
// channels exactly once.
package provider

import (
	"log/slog"
	"time"

	"github.com/Polqt/crdtcollab/localbus"
	"github.com/Polqt/crdtcollab/transport"
)

// Config holds the optional construction-time settings from §6's
// configuration table. The zero value is not valid; use DefaultConfig as a
// starting point.
type Config struct {
	// ConnectOnLaunch: whether New opens the transport immediately.
	ConnectOnLaunch bool
	// ResyncInterval: period of proactive syncStep1 sends over the
	// transport only. <= 0 disables the resync timer.
	ResyncInterval time.Duration
	// MaxBackoffTime: upper bound of reconnect exponential backoff.
	MaxBackoffTime time.Duration
	// EnableBroadcast: whether the local fan-out bus is used at all.
	EnableBroadcast bool
	// Dialer opens the transport socket; defaults to *transport.WSDialer.
	// Exposed as the `socket_factory` injection point.
	Dialer transport.Dialer
	// Bus is the local broadcast bus collaborator. Required when
	// EnableBroadcast is true.
	Bus *localbus.Bus
	// Params are appended to the constructed URL as a query string.
	Params map[string]string
	Logger *slog.Logger
}

// DefaultConfig returns the §6 defaults, minus Dialer/Bus which the caller
// must still supply if not using the zero values' fallbacks in New.
func DefaultConfig() Config {
	return Config{
		ConnectOnLaunch: true,
		ResyncInterval:  -1,
		MaxBackoffTime:  transport.DefaultMaxBackoff,
		EnableBroadcast: true,
	}
}
