// Package openai interprets free-text questions about reservoirs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Commands the agent may answer with
const (
	CommandLatestHistory = "GetLatestHistory"
	CommandListSystems   = "ListSystems"
	CommandGeneralQuery  = "GeneralQuery"
)

// ErrMissingAPIKey is returned when OPENAI_API_KEY is not set.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// AgentResponse defines the structured output from the OpenAI agent.
type AgentResponse struct {
	CommandName   string `json:"command_name" jsonschema_description:"The command to execute: GetLatestHistory, ListSystems or GeneralQuery"`
	ReservoirName string `json:"reservoir_name" jsonschema_description:"The reservoir name exactly as written in the known list, if applicable"`
	UserMessage   string `json:"user_message" jsonschema_description:"A message to show back to the user in their original language"`
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, reservoirs []string) (*AgentResponse, error)
}

type openAIServiceImpl struct {
	client openai.Client
	schema interface{}
	model  openai.ChatModel
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// NewOpenAIService creates the service from OPENAI_API_KEY. OPENAI_MODEL
// overrides the default model.
func NewOpenAIService() (OpenAIService, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	model := openai.ChatModelGPT4o
	if name := os.Getenv("OPENAI_MODEL"); name != "" {
		model = openai.ChatModel(name)
	}

	return &openAIServiceImpl{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		schema: GenerateSchema[AgentResponse](),
		model:  model,
	}, nil
}

// SystemPrompt builds the agent instructions for the given known reservoirs.
func SystemPrompt(reservoirs []string) string {
	return fmt.Sprintf(`You answer questions about Brazilian water reservoirs monitored by the national water agency (SIN, Nordeste e Semiárido and Cantareira systems).

You understand Portuguese, English and Spanish, and reply in the language the user wrote in. Keep replies short and factual.

Known reservoirs (normalized names): %s

Behavior:
1. If the user wants the current level, volume or latest measurement of a specific reservoir:
   - command_name = "%s"
   - reservoir_name: the matching name from the list, written exactly as listed. Match ignoring accents, case and spaces. If there is no confident match, use an empty string.
   - user_message: a one-line confirmation in the user's language.
2. If the user asks which systems or reservoirs are monitored:
   - command_name = "%s"
   - reservoir_name = ""
   - user_message: a one-line confirmation.
3. Anything else (greetings, unrelated questions):
   - command_name = "%s"
   - reservoir_name = ""
   - user_message: a brief reply in their language pointing to /help.

Output strictly in JSON.`,
		strings.Join(reservoirs, ", "), CommandLatestHistory, CommandListSystems, CommandGeneralQuery)
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, reservoirs []string) (*AgentResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "agent_response",
		Description: openai.String("Structured response containing command, reservoir name, and user message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(reservoirs)),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	return ParseAgentResponse(chat.Choices[0].Message.Content)
}

// ParseAgentResponse decodes the agent's JSON answer.
func ParseAgentResponse(content string) (*AgentResponse, error) {
	var agentResp AgentResponse
	if err := json.Unmarshal([]byte(content), &agentResp); err != nil {
		slog.Error("Failed to unmarshal OpenAI response", "error", err, "raw", content)
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}
	return &agentResp, nil
}
