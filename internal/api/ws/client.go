package ws

import (
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/htmloverlay/internal/infrastructure/monitoring"
)

// client is one connection. Frames are queued and written by a single
// writer goroutine; a client that falls behind loses frames instead of
// stalling the engine.
type client struct {
	id       string
	conn     *websocket.Conn
	out      chan []byte
	done     chan struct{}
	slots    chan struct{}
	inflight sync.WaitGroup
	stopOnce sync.Once
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

func (c *client) send(frame map[string]interface{}) {
	data, err := sonic.Marshal(frame)
	if err != nil {
		c.logger.Error("failed to encode frame", zap.Error(err))
		return
	}

	msgType, _ := frame["type"].(string)
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.out <- data:
		c.metrics.RecordWSMessage("out", msgType)
	case <-c.done:
	default:
		c.metrics.RecordWSMessage("dropped", msgType)
		c.logger.Warn("dropping frame for slow client", zap.String("type", msgType))
	}
}

func (c *client) sendError(ref, message, kind string, status int) {
	c.send(map[string]interface{}{
		"type":      "error",
		"ref":       ref,
		"message":   message,
		"kind":      kind,
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

// stop ends the writer after it flushes what is queued.
func (c *client) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

func (c *client) writeLoop() {
	for {
		select {
		case data := <-c.out:
			if !c.write(data) {
				c.drain()
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.out:
					if !c.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *client) write(data []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

// drain discards frames until stop so senders never block on a dead
// connection.
func (c *client) drain() {
	for {
		select {
		case <-c.out:
		case <-c.done:
			return
		}
	}
}
