// Package gpt is the OpenAI oracle. It asks the Responses API for strict
// structured output matching the Analysis schema.
package gpt

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

const maxOutputTokens = 1024

type Client struct {
	client *openai.Client
	model  string
	schema map[string]any
}

// NewClient builds an oracle for model. schema is sent as the strict
// json_schema text format on every call. Extra request options (base URL,
// HTTP client) are passed through to the SDK.
func NewClient(apiKey, model string, schema map[string]any, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &Client{client: &client, model: model, schema: schema}
}

func (c *Client) Classify(ctx context.Context, instructions, message string) (string, error) {
	if c.model == "" {
		return "", errors.New("gpt: model is empty")
	}

	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(maxOutputTokens),
		Instructions:    openai.String(instructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(message, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Name:        "LeadAnalysis",
					Schema:      c.schema,
					Strict:      openai.Bool(true),
					Description: openai.String("Lead qualification analysis JSON"),
					Type:        "json_schema",
				},
			},
		},
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("responses call: %w", err)
	}
	out := resp.OutputText()
	if out == "" {
		return "", errors.New("gpt: empty output")
	}
	return out, nil
}
