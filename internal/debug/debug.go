// Package debug is the privilege-aware debug console: tracing that is
// silenced at runtime by a single flag and routes through a privileged
// or unprivileged sink depending on the caller's current privilege
// level.
package debug

import (
	"fmt"
	"io"
	"sync/atomic"
)

// Sink is a byte-oriented console. The host build backs this with a
// terminal (cmd/cardsim wires golang.org/x/term for raw mode); a
// target build would back it with the USART peripheral.
type Sink interface {
	io.Writer
}

// Privilege reports whether the caller is currently running
// privileged.
type Privilege interface {
	IsPrivileged() bool
}

var disabled atomic.Bool

// Disable silences all Printf output, equivalent to setting
// DISABLE_DEBUG. Re-enable with Enable.
func Disable() { disabled.Store(true) }

// Enable turns debug output back on.
func Enable() { disabled.Store(false) }

// Console is the privilege-routed debug console.
type Console struct {
	unprivileged Sink
	privileged   Sink
	priv         Privilege
}

// New builds a Console that writes to unprivileged when the current
// code is unprivileged, or privileged otherwise.
func New(unprivileged, privileged Sink, priv Privilege) *Console {
	return &Console{unprivileged: unprivileged, privileged: privileged, priv: priv}
}

// Printf writes a formatted, "\r\n"-terminated message, unless output
// has been disabled. Grounded on the debug! macro.
func (c *Console) Printf(format string, args ...any) {
	if disabled.Load() {
		return
	}
	msg := fmt.Sprintf(format+"\r\n", args...)
	if c.priv.IsPrivileged() {
		io.WriteString(c.privileged, msg)
	} else {
		io.WriteString(c.unprivileged, msg)
	}
}
