package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c360studio/docdelta/fault"
)

// Elaborator produces the final narrative analysis from a rendered
// change summary.
type Elaborator interface {
	Elaborate(ctx context.Context, changeSummary string) (*Elaboration, error)
}

// Elaboration is the schema-validated elaboration result.
type Elaboration struct {
	// Summary is the overall narrative of what changed.
	Summary string `json:"summary"`

	// Recommendations lists suggested follow-up actions.
	Recommendations []string `json:"recommendations,omitempty"`

	// PerChange maps change item descriptions to impact notes.
	PerChange map[string]string `json:"per_change,omitempty"`
}

const elaborateSystemPrompt = `You are a requirements analyst writing the final change analysis for a business requirements document. You are given the classified change records from comparing the current version against history.

Respond with a JSON object:
{
  "summary": "narrative of the overall change",
  "recommendations": ["follow-up action 1"],
  "per_change": {"<change>": "<impact note>"}
}

Respond with JSON only.`

// Elaborate turns classified change records into a narrative analysis.
func (c *Client) Elaborate(ctx context.Context, changeSummary string) (*Elaboration, error) {
	resp, err := c.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: elaborateSystemPrompt},
			{Role: "user", Content: changeSummary},
		},
	})
	if err != nil {
		return nil, fault.NewCapabilityError("elaboration", err)
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fault.NewCapabilityError("elaboration", fmt.Errorf("response contains no JSON object"))
	}

	var out Elaboration
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fault.NewCapabilityError("elaboration", fmt.Errorf("unmarshal elaboration: %w", err))
	}
	if out.Summary == "" {
		return nil, fault.NewCapabilityError("elaboration", fmt.Errorf("elaboration missing summary"))
	}
	return &out, nil
}
