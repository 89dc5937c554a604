package models

// GenerationRequest is the full parameter set sent to the remote text-to-3D service.
// Its canonical serialization is the cache key preimage.
type GenerationRequest struct {
	Prompt        string  `json:"prompt"`
	Seed          int64   `json:"seed"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"num_inference_steps"`
}

// Params holds the numeric generation parameters without the prompt.
type Params struct {
	Seed          int64   `json:"seed" yaml:"seed"`
	GuidanceScale float64 `json:"guidance_scale" yaml:"guidance_scale"`
	Steps         int     `json:"num_inference_steps" yaml:"num_inference_steps"`
}

// DefaultParams mirrors the defaults of the public API.
func DefaultParams() Params {
	return Params{Seed: 0, GuidanceScale: 15, Steps: 64}
}

// Request combines p with a prompt.
func (p Params) Request(prompt string) GenerationRequest {
	return GenerationRequest{
		Prompt:        prompt,
		Seed:          p.Seed,
		GuidanceScale: p.GuidanceScale,
		Steps:         p.Steps,
	}
}

// GenRequest is the body of a single generation call.
type GenRequest struct {
	Prompt        string  `json:"prompt"`
	Seed          int64   `json:"seed"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"num_inference_steps"`
}

// NewGenRequest returns a GenRequest pre-filled with defaults.
func NewGenRequest() GenRequest {
	d := DefaultParams()
	return GenRequest{Seed: d.Seed, GuidanceScale: d.GuidanceScale, Steps: d.Steps}
}

// Generation returns the request as a GenerationRequest.
func (r GenRequest) Generation() GenerationRequest {
	return GenerationRequest(r)
}

// GenResponse identifies a materialized asset.
type GenResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// BatchRequest asks for one asset per seed.
type BatchRequest struct {
	Prompt        string  `json:"prompt"`
	Seeds         []int64 `json:"seeds"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"num_inference_steps"`
}

// NewBatchRequest returns a BatchRequest pre-filled with defaults.
// A nil Seeds after decoding means the caller omitted the field.
func NewBatchRequest() BatchRequest {
	d := DefaultParams()
	return BatchRequest{GuidanceScale: d.GuidanceScale, Steps: d.Steps}
}

// DefaultBatchSeeds is used when a batch request carries no seeds field.
var DefaultBatchSeeds = []int64{0, 1, 2}

// BatchItem is one seed's result.
type BatchItem struct {
	Seed int64  `json:"seed"`
	URL  string `json:"url"`
}

// BatchResponse lists results in request order.
type BatchResponse struct {
	Items []BatchItem `json:"items"`
}
