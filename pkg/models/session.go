package models

// Session is an append-only chain of generations.
type Session struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt float64       `json:"created_at"`
	Defaults  Params        `json:"defaults"`
	Items     []SessionItem `json:"items"`
}

// SessionItem records one generation step. Prompt is the composite prompt
// that was actually sent, not the raw edit.
type SessionItem struct {
	ID        string  `json:"id"`
	Prompt    string  `json:"prompt"`
	Params    Params  `json:"params"`
	URL       string  `json:"url"`
	CreatedAt float64 `json:"created_at"`
}

// SessionSummary is a listing row.
type SessionSummary struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	CreatedAt float64 `json:"created_at"`
	ItemCount int     `json:"item_count"`
}

// SessionCreate is the body of a new-session call.
type SessionCreate struct {
	Title         string  `json:"title"`
	Seed          int64   `json:"seed"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"num_inference_steps"`
}

// NewSessionCreate returns a SessionCreate pre-filled with defaults.
func NewSessionCreate() SessionCreate {
	d := DefaultParams()
	return SessionCreate{Seed: d.Seed, GuidanceScale: d.GuidanceScale, Steps: d.Steps}
}

// Defaults returns the session default parameters.
func (c SessionCreate) Defaults() Params {
	return Params{Seed: c.Seed, GuidanceScale: c.GuidanceScale, Steps: c.Steps}
}

// SessionResponse is the public view of a session.
type SessionResponse struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt float64       `json:"created_at"`
	Items     []SessionItem `json:"items"`
}

// Response converts s to its public view.
func (s *Session) Response() SessionResponse {
	items := s.Items
	if items == nil {
		items = []SessionItem{}
	}
	return SessionResponse{ID: s.ID, Title: s.Title, CreatedAt: s.CreatedAt, Items: items}
}

// AppendRequest adds an edit to a session. Nil overrides fall back to the
// session defaults.
type AppendRequest struct {
	SessionID     string   `json:"session_id"`
	Edit          string   `json:"edit"`
	Seed          *int64   `json:"seed,omitempty"`
	GuidanceScale *float64 `json:"guidance_scale,omitempty"`
	Steps         *int     `json:"num_inference_steps,omitempty"`
}

// Resolve applies the overrides in r on top of defaults.
func (r AppendRequest) Resolve(defaults Params) Params {
	p := defaults
	if r.Seed != nil {
		p.Seed = *r.Seed
	}
	if r.GuidanceScale != nil {
		p.GuidanceScale = *r.GuidanceScale
	}
	if r.Steps != nil {
		p.Steps = *r.Steps
	}
	return p
}
