package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/meshbridge/pkg/models"
)

type generateArgs struct {
	Prompt        string  `json:"prompt"`
	Seed          int64   `json:"seed"`
	Seeds         []int64 `json:"seeds"`
	GuidanceScale float64 `json:"guidance_scale"`
	Steps         int     `json:"num_inference_steps"`
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
}

type ledgerArgs struct {
	Since  string `json:"since"`
	Recent int    `json:"recent"`
}

// toolHandler handles one tools/call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"meshbridge_generate":       handleGenerate,
	"meshbridge_session_new":    handleSessionNew,
	"meshbridge_session_show":   handleSessionShow,
	"meshbridge_sessions":       handleSessions,
	"meshbridge_session_append": handleSessionAppend,
	"meshbridge_cache_stats":    handleCacheStats,
	"meshbridge_ledger":         handleLedger,
}

var paramProperties = map[string]any{
	"seed": map[string]any{
		"type":        "integer",
		"description": "Sampling seed (default 0)",
	},
	"guidance_scale": map[string]any{
		"type":        "number",
		"description": "Classifier-free guidance scale (default 15)",
	},
	"num_inference_steps": map[string]any{
		"type":        "integer",
		"description": "Diffusion steps (default 64)",
	},
}

func withParams(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+len(paramProperties))
	for k, v := range paramProperties {
		out[k] = v
	}
	for k, v := range props {
		out[k] = v
	}
	return out
}

var allTools = []ToolDefinition{
	{
		Name:        "meshbridge_generate",
		Description: "Generate a 3D mesh from a text prompt. Identical requests are served from the cache. Pass seeds to generate one mesh per seed.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"prompt"},
			"properties": withParams(map[string]any{
				"prompt": map[string]any{"type": "string", "description": "What to model"},
				"seeds": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "integer"},
					"description": "Batch mode: one mesh per seed, in order (optional)",
				},
			}),
		},
	},
	{
		Name:        "meshbridge_session_new",
		Description: "Start a design session whose parameters become the defaults for its edits.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": withParams(map[string]any{
				"title": map[string]any{"type": "string", "description": "Session title (optional)"},
			}),
		},
	},
	{
		Name:        "meshbridge_session_show",
		Description: "Show a design session and every generation in it.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"session_id"},
			"properties": map[string]any{
				"session_id": map[string]any{"type": "string", "description": "The session ID"},
			},
		},
	},
	{
		Name:        "meshbridge_sessions",
		Description: "List design sessions, newest first.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "meshbridge_session_append",
		Description: "Apply an edit to a session. The last few steps are folded into the prompt as context.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"session_id", "edit"},
			"properties": withParams(map[string]any{
				"session_id": map[string]any{"type": "string", "description": "The session ID"},
				"edit":       map[string]any{"type": "string", "description": "The change to make"},
			}),
		},
	},
	{
		Name:        "meshbridge_cache_stats",
		Description: "Show cache statistics (backend, entries, hits, misses, hit rate).",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "meshbridge_ledger",
		Description: "Summarize the generation ledger by source, or list recent generations.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional, defaults to the last 30 days)",
				},
				"recent": map[string]any{
					"type":        "integer",
					"description": "List this many recent generations instead of a summary (optional)",
				},
			},
		},
	},
}

func textResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

func errorResult(text string) ToolCallResult {
	return ToolCallResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: true,
	}
}

// decodeArgs fills v from raw, leaving pre-set defaults for absent fields.
func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func handleGenerate(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	d := models.DefaultParams()
	args := generateArgs{Seed: d.Seed, GuidanceScale: d.GuidanceScale, Steps: d.Steps}
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	if args.Seeds != nil {
		resp, err := s.gen.GenerateBatch(ctx, models.BatchRequest{
			Prompt:        args.Prompt,
			Seeds:         args.Seeds,
			GuidanceScale: args.GuidanceScale,
			Steps:         args.Steps,
		})
		if err != nil {
			return errorResult("Error generating batch: " + err.Error())
		}
		return textResult(formatBatch(resp))
	}

	resp, err := s.gen.GenerateOnce(ctx, models.Params{
		Seed:          args.Seed,
		GuidanceScale: args.GuidanceScale,
		Steps:         args.Steps,
	}.Request(args.Prompt))
	if err != nil {
		return errorResult("Error generating: " + err.Error())
	}
	return textResult(formatGenerated(resp))
}

func handleSessionNew(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	args := models.NewSessionCreate()
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	sess, err := s.gen.CreateSession(ctx, args)
	if err != nil {
		return errorResult("Error creating session: " + err.Error())
	}
	return textResult(formatSession(sess))
}

func handleSessionShow(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args sessionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.SessionID == "" {
		return errorResult("session_id is required")
	}
	sess, err := s.gen.GetSession(ctx, args.SessionID)
	if err != nil {
		return errorResult("Error fetching session: " + err.Error())
	}
	return textResult(formatSession(sess))
}

func handleSessions(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	list, err := s.gen.ListSessions(ctx)
	if err != nil {
		return errorResult("Error listing sessions: " + err.Error())
	}
	return textResult(formatSessions(list))
}

func handleSessionAppend(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args models.AppendRequest
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}
	if args.SessionID == "" {
		return errorResult("session_id is required")
	}
	resp, err := s.gen.AppendToSession(ctx, args)
	if err != nil {
		return errorResult("Error appending to session: " + err.Error())
	}
	return textResult(formatGenerated(resp))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.gen.CacheStats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleLedger(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	if s.ledger == nil {
		return textResult("The generation ledger is not enabled.")
	}
	var args ledgerArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult("Invalid arguments: " + err.Error())
	}

	if args.Recent > 0 {
		recs, err := s.ledger.Recent(ctx, args.Recent)
		if err != nil {
			return errorResult("Error fetching recent generations: " + err.Error())
		}
		return textResult(formatRecords(recs))
	}

	since := time.Now().UTC().AddDate(0, 0, -30)
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		since = t
	}
	rows, err := s.ledger.Summary(ctx, since)
	if err != nil {
		return errorResult("Error fetching ledger summary: " + err.Error())
	}
	return textResult(formatSummary(rows))
}
