// Package app carries the process-wide collaborators explicitly instead of
// through package globals.
package app

import (
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-composer/internal/config"
	"github.com/stemsi/exstem-composer/internal/logger"
	"github.com/stemsi/exstem-composer/internal/observe"
)

// Context is handed to every constructor that needs logging, error
// collection or change notification.
type Context struct {
	Log      zerolog.Logger
	Config   *config.Config
	Errors   *ErrorCollector
	Notifier *observe.Notifier
}

// New builds a Context with a fresh notifier and error collector.
func New(cfg *config.Config, log zerolog.Logger) *Context {
	n := observe.NewNotifier()
	return &Context{
		Log:      log,
		Config:   cfg,
		Errors:   NewErrorCollector(n),
		Notifier: n,
	}
}

// Component returns a child logger tagged with the component name.
func (c *Context) Component(name string) zerolog.Logger {
	return logger.Component(c.Log, name)
}
