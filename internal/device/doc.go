// Package device provides the device record, the operation set every
// firmware-updatable device implements, and the registry of devices the
// daemon currently knows about.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                          device package                          │
//	│                                                                  │
//	│  ┌──────────────┐   ┌───────────────┐   ┌─────────────────────┐  │
//	│  │    Record    │   │     Base      │   │      Registry       │  │
//	│  │ (record.go)  │◀──│  (device.go)  │   │    (registry.go)    │  │
//	│  │              │   │               │   │                     │  │
//	│  │ • identity   │   │ • defaults    │   │ • present devices   │  │
//	│  │ • GUIDs      │   │ • ToString    │   │ • replug donors     │  │
//	│  │ • Incorporate│   │ • SetQuirkKV  │   │ • SQLite history    │  │
//	│  └──────────────┘   └───────────────┘   └─────────────────────┘  │
//	│                       ▲           ▲                              │
//	│              ┌────────┘           └────────┐                     │
//	│     ┌────────────────┐           ┌────────────────┐              │
//	│     │   UdevDevice   │           │  BluezDevice   │              │
//	│     │ block, dd, ... │           │ infinitime ... │              │
//	│     └────────────────┘           └────────────────┘              │
//	└──────────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Record: identity and state of one hardware unit
//   - Device: the operation set driven by the lifecycle controller
//   - Base: default implementation of every Device operation
//   - InstanceIDBuilder: cumulative instance id derivation
//   - Registry: present devices plus removed ones kept for replugs
//
// # Usage
//
// Variants embed a base and override what they implement:
//
//	type Volume struct {
//	    device.UdevDevice
//	}
//
//	func (v *Volume) Probe(ctx context.Context) error {
//	    if err := v.UdevDevice.Probe(ctx); err != nil {
//	        return err
//	    }
//	    device.NewInstanceIDBuilder("BLOCK").
//	        Add("UUID", uuid).
//	        Add("LABEL", label).
//	        Apply(v.Record())
//	    return nil
//	}
//
// # Thread Safety
//
// Record and the device variants are not safe for concurrent mutation;
// callers serialize operations on one device. Registry is safe for
// concurrent use.
package device
