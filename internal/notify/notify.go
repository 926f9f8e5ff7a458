package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const historySize = 50

// ErrorTitle is used for every error the console shows to the user.
const ErrorTitle = "[ERROR]"

// Notification is a user-visible status or error message.
type Notification struct {
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Dismissable bool      `json:"dismissable"`
	Busy        bool      `json:"busy"`
	Time        time.Time `json:"time"`
}

// Notifier is the best-effort status surface the gateway and the
// sequencer publish to.
type Notifier interface {
	Notify(n Notification)
	Clear()
}

// Error builds a dismissable error notification.
func Error(message string) Notification {
	return Notification{Title: ErrorTitle, Message: message, Dismissable: true}
}

// Busy builds a non-dismissable progress notification.
func Busy(title string) Notification {
	return Notification{Title: title, Busy: true}
}

// Channel keeps the current notification plus a short history.
type Channel struct {
	logger zerolog.Logger

	mu      sync.Mutex
	current *Notification
	history []Notification
}

func NewChannel(logger zerolog.Logger) *Channel {
	return &Channel{logger: logger}
}

func (c *Channel) Notify(n Notification) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}

	c.mu.Lock()
	c.current = &n
	c.history = append(c.history, n)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	c.mu.Unlock()

	ev := c.logger.Info()
	if n.Title == ErrorTitle {
		ev = c.logger.Warn()
	}
	ev.Str("title", n.Title).Bool("busy", n.Busy).Msg(n.Message)
}

func (c *Channel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
}

// Dismiss clears the current notification if the user is allowed to.
func (c *Channel) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.current.Dismissable {
		return false
	}
	c.current = nil
	return true
}

// Current returns the visible notification, if any.
func (c *Channel) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// History returns past notifications, oldest first.
func (c *Channel) History() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.history...)
}
