// Package lifecycle sequences devices through probe, quirk application,
// setup, open, transfer and close, and reports every step to observers.
//
// # States
//
//	Unprobed ──Add──▶ Probed ──Install/Dump──▶ Opened ──▶ Writing|Reading
//	                    │                                      │
//	                    │                 Closed ◀─────────────┘
//	                    │                   │
//	                    └──Remove──▶ Removed ◀──Remove
//
// Install and Dump always close the device again, also when the transfer
// fails. A device in Closed can be opened again.
//
// Observers run synchronously on the goroutine performing the operation,
// progress ticks included, and must not block.
package lifecycle
