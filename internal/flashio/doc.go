// Package flashio provides wl.IO implementations: an in-memory simulated
// NAND (sim.go), a fault-injecting wrapper around any wl.IO (chaos.go), the
// on-flash header wire format (format.go), durable snapshot persistence
// (persist.go), and an optional SQLite-backed attach-time index (index.go).
package flashio
