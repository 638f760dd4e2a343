package internal

import "github.com/starford/laguz/internal/remote"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config *Config
	remote remote.Store
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithRemote overrides the sync peer, regardless of the remote mode in
// the configuration. Tests use this with an in-memory replica.
func WithRemote(r remote.Store) Option {
	return func(a *application) {
		a.remote = r
	}
}
