package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog"
)

// LambdaHandler adapts the pipeline to AWS Lambda. It accepts API Gateway
// proxy events and direct invocations carrying a conversation id, and
// answers both with a proxy-shaped response.
type LambdaHandler struct {
	svc    ThreadService
	logger zerolog.Logger
}

// NewLambdaHandler creates a LambdaHandler.
func NewLambdaHandler(svc ThreadService, logger zerolog.Logger) *LambdaHandler {
	return &LambdaHandler{svc: svc, logger: logger}
}

// Handle is the function passed to lambda.Start.
func (h *LambdaHandler) Handle(ctx context.Context, event json.RawMessage) (events.APIGatewayProxyResponse, error) {
	log := h.logger
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.With().Str("aws_request_id", lc.AwsRequestID).Logger()
	}

	id, err := conversationIDFromEvent(event)
	if err != nil {
		log.Warn().Err(err).Msg("unreadable event")
	}
	if id == "" {
		status, body := missingInput()
		return proxyResponse(status, body), nil
	}

	status, body := extract(ctx, h.svc, id, log)
	return proxyResponse(status, body), nil
}

// conversationIDFromEvent finds the conversation id in either event shape.
// An API Gateway event is recognized by its httpMethod or requestContext.
func conversationIDFromEvent(event json.RawMessage) (string, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(event, &probe); err != nil {
		return "", err
	}

	_, hasMethod := probe["httpMethod"]
	_, hasContext := probe["requestContext"]
	if !hasMethod && !hasContext {
		var req Request
		if err := json.Unmarshal(event, &req); err != nil {
			return "", err
		}
		return req.ID(), nil
	}

	var gw events.APIGatewayProxyRequest
	if err := json.Unmarshal(event, &gw); err != nil {
		return "", err
	}
	if id := strings.TrimSpace(gw.PathParameters["conversationId"]); id != "" {
		return id, nil
	}
	if gw.Body != "" {
		body := []byte(gw.Body)
		if gw.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(gw.Body)
			if err != nil {
				return "", err
			}
			body = decoded
		}
		var req Request
		if err := json.Unmarshal(body, &req); err != nil {
			return "", err
		}
		if id := req.ID(); id != "" {
			return id, nil
		}
	}
	if id := strings.TrimSpace(gw.QueryStringParameters["conversationId"]); id != "" {
		return id, nil
	}
	return strings.TrimSpace(gw.QueryStringParameters["conversation_id"]), nil
}

func proxyResponse(status int, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"internal server error","errorType":"InternalError"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(b),
	}
}
