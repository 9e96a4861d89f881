package imagegen

import (
	"context"
	"log"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Models names the upstream checkpoints each request kind requires. Sketch
// requests deliberately share the text-to-image model: they are a
// text-to-image call augmented with scribble conditioning.
type Models struct {
	TextToImage        string `yaml:"text_to_image"`
	DepthToImage       string `yaml:"depth_to_image"`
	ControlnetScribble string `yaml:"controlnet_scribble"`
}

// scribbleModule inverts the submitted drawing (white background, black
// lines) into the form the conditioning extension expects.
const scribbleModule = "invert (from white bg & black lines)"

// depthSampler is deterministic so seeded depth renders are reproducible.
const depthSampler = "DDIM"

// Dispatcher routes generation requests across the upstream pool.
type Dispatcher struct {
	upstreams []*Upstream
	models    Models
	assets    *assetCache

	mu           sync.Mutex
	placeholders []string
	rng          *rand.Rand

	wake chan struct{}
	quit chan struct{}
}

// NewDispatcher creates a dispatcher over the given upstreams. The
// placeholder pool starts with a single built-in image; LoadPlaceholders
// replaces it with real fallback art.
func NewDispatcher(upstreams []*Upstream, models Models, assetsDir string) *Dispatcher {
	return &Dispatcher{
		upstreams:    upstreams,
		models:       models,
		assets:       newAssetCache(assetsDir),
		placeholders: []string{builtinPlaceholder},
		rng:          rand.New(rand.NewSource(rand.Int63())),
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
	}
}

// Run drives the poll loop until Stop is called. Call it in a goroutine.
func (d *Dispatcher) Run() {
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
			d.poll()
		}
	}
}

// Stop terminates the poll loop.
func (d *Dispatcher) Stop() {
	close(d.quit)
}

// Submit enqueues a request on the least-loaded upstream the request has
// not yet attempted. When every upstream has been attempted, the request
// completes with placeholder images instead; it is never dropped.
func (d *Dispatcher) Submit(r *Request) {
	if r.attempted == nil {
		r.attempted = make(map[string]bool, len(d.upstreams))
	}

	targets := append([]*Upstream(nil), d.upstreams...)
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].pending() < targets[j].pending()
	})

	for _, u := range targets {
		if r.attempted[u.Addr()] {
			continue
		}
		r.attempted[u.Addr()] = true
		u.enqueue(r)
		d.kick()
		return
	}

	d.fallback(r)
}

// kick nudges the poll loop; a pending nudge is enough.
func (d *Dispatcher) kick() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// poll starts every idle upstream that has work queued. Distinct upstreams
// process distinct requests in parallel.
func (d *Dispatcher) poll() {
	for _, u := range d.upstreams {
		if r := u.take(); r != nil {
			go d.process(u, r)
		}
	}
}

func (d *Dispatcher) process(u *Upstream, r *Request) {
	images, err := d.perform(context.Background(), u, r)
	u.release()

	if err != nil {
		log.Printf("imagegen: %s request for session %s failed on %s: %v",
			r.Kind, r.SessionCode, u.Addr(), err)
		d.Submit(r)
	} else {
		r.Deliver(d.mint(r, images))
	}
	d.kick()
}

// perform runs the in-flight protocol against one upstream: model check,
// model switch if needed, then the submit call.
func (d *Dispatcher) perform(ctx context.Context, u *Upstream, r *Request) ([]string, error) {
	required := d.models.TextToImage
	if r.Kind == DepthToImage {
		required = d.models.DepthToImage
	}

	current, err := u.currentModel(ctx)
	if err != nil {
		return nil, err
	}
	if current != required {
		if err := u.switchModel(ctx, required); err != nil {
			return nil, err
		}
	}

	switch r.Kind {
	case TextToImage:
		return u.generate(ctx, "/txt2img", txt2imgPayload{
			Prompt:         r.Prompt,
			NegativePrompt: r.NegativePrompt,
			BatchSize:      r.BatchSize,
			Iterations:     r.Iterations,
			Seed:           r.Seed,
		})
	case SketchToImage:
		return u.generate(ctx, "/txt2img", txt2imgPayload{
			Prompt:     r.Prompt,
			BatchSize:  r.BatchSize,
			Iterations: r.Iterations,
			Seed:       r.Seed,
			AlwaysOnScripts: &alwaysOnScripts{
				Controlnet: &controlnetUnit{
					Args: []controlnetArgs{{
						InputImage: r.Sketch,
						Module:     scribbleModule,
						Model:      d.models.ControlnetScribble,
					}},
				},
			},
		})
	case DepthToImage:
		initImage, err := d.assets.load(r.InitImageAsset)
		if err != nil {
			return nil, err
		}
		return u.generate(ctx, "/img2img", img2imgPayload{
			InitImages:        []string{initImage},
			Prompt:            r.Prompt,
			NegativePrompt:    r.NegativePrompt,
			DenoisingStrength: r.DenoisingStrength,
			SamplerName:       depthSampler,
			BatchSize:         r.BatchSize,
			Iterations:        r.Iterations,
			Seed:              r.Seed,
		})
	}
	return nil, errUnknownKind(r.Kind)
}

// mint assigns a fresh image id to every payload. An upstream returning
// fewer images than requested pads by duplicating the first so the callback
// always carries the expected count.
func (d *Dispatcher) mint(r *Request, images []string) map[string]string {
	want := r.expected()
	out := make(map[string]string, want)
	for i := 0; i < want; i++ {
		payload := images[0]
		if i < len(images) {
			payload = images[i]
		}
		out[uuid.NewString()] = payload
	}
	return out
}

// fallback delivers placeholder images once every upstream has failed.
func (d *Dispatcher) fallback(r *Request) {
	log.Printf("imagegen: all %d upstreams exhausted for %s request in session %s, delivering placeholders",
		len(d.upstreams), r.Kind, r.SessionCode)

	want := r.expected()
	out := make(map[string]string, want)
	d.mu.Lock()
	for i := 0; i < want; i++ {
		out[uuid.NewString()] = d.placeholders[d.rng.Intn(len(d.placeholders))]
	}
	d.mu.Unlock()
	r.Deliver(out)
}

type errUnknownKind RequestKind

func (e errUnknownKind) Error() string {
	return "imagegen: unknown request kind " + RequestKind(e).String()
}
