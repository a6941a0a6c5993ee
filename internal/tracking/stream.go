package tracking

import (
	"context"
	"errors"
	"sync"

	"github.com/gin-gonic/gin"
)

var errStreamClosed = errors.New("stream cerrado por el cliente")

// StreamObserver escribe los mensajes como Server-Sent Events sobre la
// respuesta de gin. El handler debe esperar a Subscription.Done antes de volver.
type StreamObserver struct {
	mu sync.Mutex
	c  *gin.Context
}

func NewStreamObserver(c *gin.Context) *StreamObserver {
	return &StreamObserver{c: c}
}

func (s *StreamObserver) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.SSEvent(string(m.Type), m)
	if s.c.IsAborted() {
		return errStreamClosed
	}
	s.c.Writer.Flush()
	return nil
}
