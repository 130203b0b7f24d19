package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"RestoPOS/app/models"
)

type websocketConn struct {
	*websocket.Conn
}

func dialTest(baseURL, clientType string) (*websocketConn, error) {
	url := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?type=" + clientType
	header := http.Header{}
	header.Set(APIKeyHeader, testAPIKey)
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		return nil, err
	}
	return &websocketConn{conn}, nil
}

// next reads until a message of msgType arrives or the timeout expires.
// The connection is unusable after a timeout.
func (c *websocketConn) next(msgType models.MessageType, timeout time.Duration) (models.Message, bool) {
	c.SetReadDeadline(time.Now().Add(timeout))
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return models.Message{}, false
		}
		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == msgType {
			return msg, true
		}
	}
}

func (c *websocketConn) waitFor(msgType models.MessageType, timeout time.Duration) bool {
	_, ok := c.next(msgType, timeout)
	return ok
}
