// Package publisher runs the incremental publish loop and keeps the record
// of what it published.
//
// # Orchestrator
//
// Orchestrator scans the source directory and takes every font through
//
//	Discovered -> Resolved -> Skipped | Published | Failed
//
// Resolution failures, engine failures and rewrite failures are recorded on
// the asset's Outcome and never stop the remaining assets. The returned
// Summary carries Signal, set when at least one asset was published; the
// pipeline runs its upload and index steps only when it is set.
//
// # Ledger
//
// Ledger stores releases in Pebble with monotonically increasing sequence
// numbers and one delivery cursor per announcement sink:
//
//	/release/{seq:016x}  -> msgpack(Release)
//	/cursor/{sinkName}   -> uint64 (last delivered seq)
//	/seq                 -> uint64 (last assigned seq)
//
// # Announcements
//
// Registry builds one Announcer per configured sink (NATS JetStream, Kafka)
// from factories registered by the sink package, and Announce drains each
// sink from its cursor. Delivery is at-least-once; a sink that is down keeps
// its cursor and catches up on the next run.
//
//	registry, err := NewRegistry(RegistryConfig{
//		LedgerDir:   ".fontpub/ledger",
//		SinkConfigs: cfg.Config.Announce.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	defer registry.Close()
//
//	if err := registry.Record(summary.Releases); err != nil {
//		return err
//	}
//	registry.Announce(ctx)
package publisher
