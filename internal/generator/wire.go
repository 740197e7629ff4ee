package generator

import (
	"encoding/json"
	"fmt"
	"strings"
)

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type schema struct {
	Type       string            `json:"type"`
	Properties map[string]schema `json:"properties,omitempty"`
	Items      *schema           `json:"items,omitempty"`
	Required   []string          `json:"required,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP"`
	TopK             int     `json:"topK"`
	CandidateCount   int     `json:"candidateCount"`
	ResponseMimeType string  `json:"responseMimeType"`
	ResponseSchema   schema  `json:"responseSchema"`
}

type generateRequest struct {
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

var quoteSchema = schema{
	Type: "OBJECT",
	Properties: map[string]schema{
		"emoji":    {Type: "STRING"},
		"quote":    {Type: "STRING"},
		"theme":    {Type: "STRING"},
		"hashtags": {Type: "ARRAY", Items: &schema{Type: "STRING"}},
	},
	Required: []string{"emoji", "quote", "theme", "hashtags"},
}

func (g *Gemini) request(prompt, system string) generateRequest {
	gc := generationConfig{
		Temperature:      defaultTemperature,
		TopP:             defaultTopP,
		TopK:             defaultTopK,
		CandidateCount:   1,
		ResponseMimeType: "application/json",
		ResponseSchema:   quoteSchema,
	}
	if g.cfg.Temperature != nil {
		gc.Temperature = *g.cfg.Temperature
	}
	if g.cfg.TopP != nil {
		gc.TopP = *g.cfg.TopP
	}
	if g.cfg.TopK > 0 {
		gc.TopK = g.cfg.TopK
	}
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: gc,
	}
	if strings.TrimSpace(system) != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	return req
}

func (r generateResponse) text() (string, error) {
	if r.PromptFeedback != nil && r.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("generator: prompt blocked: %s", r.PromptFeedback.BlockReason)
	}
	if len(r.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrEmptyResponse)
	}
	c := r.Candidates[0]
	var b strings.Builder
	for _, p := range c.Content.Parts {
		b.WriteString(p.Text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: finish reason %q", ErrEmptyResponse, c.FinishReason)
	}
	return b.String(), nil
}

// apiError extracts Google's {"error":{...}} body when present.
func apiError(status int, body []byte) error {
	var e struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal(body, &e); jsonErr == nil && e.Error.Message != "" {
		return fmt.Errorf("generator: api %d %s: %s", status, e.Error.Status, e.Error.Message)
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Errorf("generator: api http %d: %s", status, snippet)
}
