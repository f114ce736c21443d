package dispatcher

import "go.uber.org/zap"

// Option configures a Dispatcher.
type Option interface {
	Apply(*Dispatcher)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements Option.
type OptionFunc func(*Dispatcher)

func (f OptionFunc) Apply(d *Dispatcher) {
	f(d)
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return OptionFunc(func(d *Dispatcher) {
		d.logger = logger
	})
}

// WithCatalog makes the dispatcher serve an existing catalog.
func WithCatalog(c *Catalog) Option {
	return OptionFunc(func(d *Dispatcher) {
		d.catalog = c
	})
}
