// Package transports imports all built-in transports for auto-registration.
// Import this package to have every bus registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/protorelay/transport/channel"
	_ "github.com/drblury/protorelay/transport/nats"
	_ "github.com/drblury/protorelay/transport/rabbitmq"
	_ "github.com/drblury/protorelay/transport/redis"
)
