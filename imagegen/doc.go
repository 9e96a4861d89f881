// Package imagegen multiplexes scripted image-generation requests across a
// pool of upstream HTTP image servers.
//
// Each upstream owns a FIFO of pending requests and a single in-flight slot;
// a dispatcher loop starts idle upstreams and performs the per-request
// protocol: read the active model, switch it if needed, post the payload,
// and unpack the returned images. Failures rotate the request to the next
// upstream it has not yet attempted; once every upstream has been tried the
// dispatcher synthesizes placeholder images from a fixed pool so that the
// requesting script can always make progress. Exactly one callback is
// delivered per request.
package imagegen
