package tracking

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkout-service/internal/model"
)

func TestStreamObserver_WritesEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/tracking/O1/stream", nil)

	obs := NewStreamObserver(c)
	err := obs.Send(context.Background(), Message{Type: MessageStatusUpdate, OrderRef: "O1", Milestone: model.MilestoneShipped, Timestamp: baseTime})
	require.NoError(t, err)

	body := w.Body.String()
	assert.Contains(t, body, "event:status-update")
	assert.Contains(t, body, `"milestone":"shipped"`)
	assert.True(t, w.Flushed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, obs.Send(ctx, Message{Type: MessagePing}))
}
