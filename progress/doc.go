// Package progress tracks per-transfer completion and publishes it to
// observers as a stream of events.
//
// A Tracker holds one State per transfer id. The relay writes to it while
// bytes flow; any number of Publisher subscriptions read snapshots on their
// own ticker. Finished transfers stay visible for a retention window so an
// observer that connects late still sees the final state.
package progress
