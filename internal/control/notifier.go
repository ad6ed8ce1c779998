package control

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Notifier shows user-facing messages.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}

// DialogKind distinguishes informational and error dialogs.
type DialogKind string

const (
	DialogInfo  DialogKind = "info"
	DialogError DialogKind = "error"
)

// Dialog is a queued user message.
type Dialog struct {
	Kind    DialogKind `json:"kind"`
	Message string     `json:"message"`
}

// Dialogs queues messages until the HTTP layer drains them into the
// response.
type Dialogs struct {
	mu    sync.Mutex
	queue []Dialog
}

func (d *Dialogs) Info(msg string)  { d.push(DialogInfo, msg) }
func (d *Dialogs) Error(msg string) { d.push(DialogError, msg) }

func (d *Dialogs) push(kind DialogKind, msg string) {
	d.mu.Lock()
	d.queue = append(d.queue, Dialog{Kind: kind, Message: msg})
	d.mu.Unlock()
}

// Drain returns and clears the queued dialogs.
func (d *Dialogs) Drain() []Dialog {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.queue
	d.queue = nil
	return out
}

// LogNotifier writes messages to the global zerolog logger.
type LogNotifier struct{}

func (LogNotifier) Info(msg string)  { log.Info().Msg(msg) }
func (LogNotifier) Error(msg string) { log.Error().Msg(msg) }
