//go:build wireinject
// +build wireinject

package app

import "github.com/google/wire"

// InitializeApp wires the application from the config file at path, the
// environment and defaults.
func InitializeApp(path ConfigPath) (*App, func(), error) {
	wire.Build(ProviderSet)
	return nil, nil, nil
}
