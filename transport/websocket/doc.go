// Package websocket carries the player transport: one WebSocket connection
// per player, a read pump that decodes frames for the session router, and a
// write pump with a ping/pong heartbeat. Outbound frames are buffered per
// connection and dropped on overflow rather than blocking the server.
package websocket
