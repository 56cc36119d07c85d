package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/docdelta/fault"
)

// Extractor is the structured-extraction capability consumed by the
// diff engine. Responses are schema-validated at this boundary;
// malformed payloads surface as CapabilityError, never as untyped maps.
type Extractor interface {
	// Classify compares a current chunk against its matched historical
	// chunk and returns a change judgment.
	Classify(ctx context.Context, currentText, historicalText string) (*Judgment, error)

	// ExtractDetail pulls field-level detail for the given change items
	// from the full current document.
	ExtractDetail(ctx context.Context, items []string, fullDocument string) (*Detail, error)
}

// Judgment is the schema-validated classification result.
type Judgment struct {
	// Type is one of "new", "modified", "deleted".
	Type string `json:"type"`

	// Reason explains the classification.
	Reason string `json:"reason"`

	// Items lists the discrete changes found.
	Items []string `json:"items"`
}

// Detail is the second-pass field-level change detail.
type Detail struct {
	// Details maps each change item to its extracted detail text.
	Details map[string]string `json:"details"`
}

// validJudgmentTypes enumerates the accepted classification outputs.
var validJudgmentTypes = map[string]bool{
	"new":      true,
	"modified": true,
	"deleted":  true,
}

const classifySystemPrompt = `You are a requirements analyst comparing two versions of a section from a business requirements document. Classify the change from the historical version to the current version.

Respond with a JSON object:
{
  "type": "new" | "modified" | "deleted",
  "reason": "one-sentence explanation",
  "items": ["discrete change 1", "discrete change 2"]
}

Use "modified" when the section evolved, "new" when the current text describes functionality absent from the historical version, and "deleted" when the current text removes or cancels functionality the historical version had. Respond with JSON only.`

const detailSystemPrompt = `You are a requirements analyst. For each listed change item, extract the relevant detail from the full current document: affected fields, values, constraints, and acceptance criteria.

Respond with a JSON object:
{
  "details": {"<change item>": "<detail text>"}
}

Respond with JSON only.`

// Classify compares the current chunk text with its matched historical
// chunk and returns a schema-validated judgment.
func (c *Client) Classify(ctx context.Context, currentText, historicalText string) (*Judgment, error) {
	user := fmt.Sprintf("Historical version:\n%s\n\nCurrent version:\n%s", historicalText, currentText)

	resp, err := c.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fault.NewCapabilityError("extraction", err)
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fault.NewCapabilityError("extraction", fmt.Errorf("response contains no JSON object"))
	}

	var judgment Judgment
	if err := json.Unmarshal([]byte(raw), &judgment); err != nil {
		return nil, fault.NewCapabilityError("extraction", fmt.Errorf("unmarshal judgment: %w", err))
	}

	return ValidateJudgment(&judgment)
}

// ExtractDetail pulls field-level detail for change items from the full
// current document. It never alters the change type; callers own that.
func (c *Client) ExtractDetail(ctx context.Context, items []string, fullDocument string) (*Detail, error) {
	if len(items) == 0 {
		return &Detail{Details: map[string]string{}}, nil
	}

	user := fmt.Sprintf("Change items:\n- %s\n\nFull document:\n%s",
		strings.Join(items, "\n- "), fullDocument)

	resp, err := c.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: detailSystemPrompt},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, fault.NewCapabilityError("extraction", err)
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return nil, fault.NewCapabilityError("extraction", fmt.Errorf("response contains no JSON object"))
	}

	var detail Detail
	if err := json.Unmarshal([]byte(raw), &detail); err != nil {
		return nil, fault.NewCapabilityError("extraction", fmt.Errorf("unmarshal detail: %w", err))
	}

	return &detail, nil
}

// ValidateJudgment enforces the judgment schema. A missing type is a
// capability failure; a well-formed but unrecognized type is ambiguous
// and must not be coerced into a valid classification.
func ValidateJudgment(j *Judgment) (*Judgment, error) {
	j.Type = strings.ToLower(strings.TrimSpace(j.Type))
	if j.Type == "" {
		return nil, fault.NewCapabilityError("extraction", fmt.Errorf("judgment missing change type"))
	}
	if !validJudgmentTypes[j.Type] {
		return nil, fault.NewAmbiguousError("model returned unrecognized change type %q", j.Type)
	}
	return j, nil
}
