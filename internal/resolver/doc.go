// Package resolver turns an event's observation history into one authoritative status.
//
// The newest observation wins unless the trailing anti-flap window shows more
// distinct statuses than the configured threshold. In that case the newest status
// is adopted only once it is confirmed; otherwise the previous registry status is
// kept and the event is flagged unconfirmed.
//
// Resolve is a pure function of the history, the previous registry record, and the
// check time. Service applies it to events in a Store, one pass per event at a time.
package resolver
