package model

import (
	"context"
	"net"
)

// SecurityLayer produces the network listener a server binds to, with or
// without TLS.
type SecurityLayer interface {
	Listen(protocol, addr string) (net.Listener, error)
}

// Server is a long-running request server.
type Server interface {
	Start(securityLayer SecurityLayer) error
	Stop(ctx context.Context) error
	Address() string
}
