/*
Package session keeps the working copy of every live conversation and
mirrors it to durable storage.

Three pieces cooperate:

  - Manager serializes turns per session with reference-counted local locks,
    optionally backed by a ports.DistributedLocker when several replicas
    share one store.
  - Registry is the table of live Conversations. It creates a conversation on
    first use, hydrates it from the store after a restart or eviction, and
    checks ownership on every access.
  - Mirror writes messages, drafts, sessions and orders to the store from a
    background worker, so a turn never waits on durable storage. Writes are
    kept until stored, and Sweep leaves a conversation in place while any of
    its writes are pending.
*/
package session
