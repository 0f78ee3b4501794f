package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	svc := okService()

	status, body := Run(context.Background(), svc, "c1", zerolog.Nop())
	require.Equal(t, http.StatusOK, status)
	ok, isSuccess := body.(SuccessBody)
	require.True(t, isSuccess, "body is %T", body)
	assert.Equal(t, "c1", ok.Metadata.ConversationID)
	assert.GreaterOrEqual(t, ok.Metadata.ProcessingTime, int64(0))

	status, body = Run(context.Background(), svc, " ", zerolog.Nop())
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrorBody{Error: "conversationId is required", ErrorType: "MissingInput"}, body)
	assert.Equal(t, []string{"c1"}, svc.calls)
}
