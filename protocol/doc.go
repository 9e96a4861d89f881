// Package protocol defines the tagged-union JSON wire format spoken between
// players and the server, and the codec that moves messages across it.
//
// Every frame is a single JSON object with a "kind" discriminator field and
// kind-specific fields. Encoding injects the discriminator; decoding
// dispatches on it. Malformed inbound frames are reported as errors so the
// router can log and drop them without disconnecting the player.
package protocol
