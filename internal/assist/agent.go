// Package assist turns free-text billing descriptions into validated invoice
// drafts using an LLM with a strict structured-output schema. The draft never
// reaches storage directly: the caller reviews it and issues the invoice
// through the regular lifecycle.
package assist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"

	"billing-engine/internal/core"
)

type AgentService interface {
	DraftInvoice(ctx context.Context, description string, priceList string) (*core.DraftResponse, error)
}

type Agent struct {
	client *openai.Client
}

func NewAgent(apiKey string) *Agent {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client}
}

func (a *Agent) DraftInvoice(ctx context.Context, description string, priceList string) (*core.DraftResponse, error) {
	prompt := fmt.Sprintf(`You are an expert billing assistant.
Your goal is to interpret a billing request described in natural language and draft the invoice rows.
Rules:
1. Use the price list below when it names the service; otherwise take prices from the request.
2. Amounts must be exact strings (e.g. "100.00"), never floats.
3. Dates are YYYY-MM-DD.
4. Provide a confidence score (0.0-1.0).
5. Explain your reasoning.
6. If the request is missing the customer, the services, or the amounts, ask for clarification instead of guessing.

Price list:
%s

Request: %s`, priceList, description)

	// Dynamically generate the JSON schema from the Go struct
	schemaStruct := generateSchema()
	schemaJSON, err := json.Marshal(schemaStruct)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(shared.ChatModelGPT4o),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "invoice_draft",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A drafted invoice or a clarification request"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var out core.DraftResponse
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}

	if out.IsClarificationRequest {
		if out.Clarification == nil {
			return nil, fmt.Errorf("clarification requested without a message")
		}
		return &out, nil
	}
	if out.Draft == nil {
		return nil, fmt.Errorf("response carries neither a draft nor a clarification")
	}

	out.Draft.Normalize()
	if err := out.Draft.Validate(); err != nil {
		return nil, fmt.Errorf("draft validation failed: %w", err)
	}
	return &out, nil
}

func generateSchema() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v core.DraftResponse
	return reflector.Reflect(v)
}
