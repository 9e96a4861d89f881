package imagegen

import "github.com/google/uuid"

// RequestKind selects which upstream mode carries a request.
type RequestKind int

const (
	// TextToImage renders a prompt on the text-to-image model.
	TextToImage RequestKind = iota
	// DepthToImage conditions on a depth template image.
	DepthToImage
	// SketchToImage drives text-to-image with an always-on scribble
	// conditioning extension. It uses the text-to-image base model.
	SketchToImage
)

func (k RequestKind) String() string {
	switch k {
	case TextToImage:
		return "txt2img"
	case DepthToImage:
		return "depth2img"
	case SketchToImage:
		return "sketch2img"
	}
	return "unknown"
}

// Callback receives the finished id-to-base64 image map. The dispatcher
// fires it exactly once per request, on a dispatcher goroutine.
type Callback func(images map[string]string)

// Request describes one generation job. SessionCode and PlayerID identify
// the originator so the result can be routed back; OutVar names the
// variable the engine writes the result to.
type Request struct {
	SessionCode string
	PlayerID    uuid.UUID
	OutVar      string
	Kind        RequestKind

	Prompt         string
	NegativePrompt string

	// InitImageAsset is the asset path of the depth template, depth
	// requests only. The dispatcher loads and caches it as base64.
	InitImageAsset string
	// Sketch is the submitted drawing as base64, sketch requests only.
	Sketch string

	DenoisingStrength float64
	BatchSize         int
	Iterations        int
	Seed              int64

	Deliver Callback

	// attempted holds the addresses of upstreams this request has been
	// enqueued on. It only grows; a request never revisits an upstream.
	attempted map[string]bool
}

// expected returns how many images the callback must contain.
func (r *Request) expected() int {
	batch := r.BatchSize
	if batch < 1 {
		batch = 1
	}
	iters := r.Iterations
	if iters < 1 {
		iters = 1
	}
	return batch * iters
}
