package infinitime

import (
	"context"

	"github.com/DylanVanAssche/fwupd/internal/transport"
)

// Discover returns a watch for every connected peripheral on bus that
// exposes the DFU control point. Whether it really runs InfiniTime is
// decided by Probe.
func Discover(ctx context.Context, bus transport.BluezBus, opts ...Option) ([]*Watch, error) {
	peripherals, err := transport.Peripherals(ctx, bus)
	if err != nil {
		return nil, err
	}

	var watches []*Watch
	for _, p := range peripherals {
		if !p.HasCharacteristic(UUIDControlPoint) {
			continue
		}
		watches = append(watches, NewWatch(transport.NewBluezGATT(bus, p), opts...))
	}
	return watches, nil
}
