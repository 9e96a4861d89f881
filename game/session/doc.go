// Package session groups players into coded sessions and routes their
// messages. A Session collects a pre-game vote for a mini-game, runs at
// most one engine Game, and tears itself down when the game ends or the
// last player leaves. The Manager owns the code registry and the
// connection-to-player bindings.
package session
