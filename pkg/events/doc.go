// Package events provides the in-process broker that carries job and fleet
// lifecycle notifications from the ledger, the fleet orchestrator and the
// catalog watcher to their observers, chiefly the metrics collector.
//
// Publishing never blocks. Each subscriber has a 50 event buffer and misses
// events while it is full, so subscribers must not be used for anything that
// needs every event; the ledger and the correlation store remain the source
// of truth.
//
//	broker := events.NewBroker()
//	broker.Start()
//	defer broker.Stop()
//
//	sub := broker.Subscribe()
//	defer broker.Unsubscribe(sub)
//	for ev := range sub {
//		...
//	}
package events
