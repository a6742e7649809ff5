// Package transport wraps gorilla/websocket: an Upgrader for inbound
// connections and a thin read/write wrapper used by both the authority
// and the replica engine so neither has to import gorilla/websocket
// directly.
package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn is a JSON message connection over a websocket, safe for concurrent
// writes (gorilla's Conn is not, by itself).
type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Accept upgrades an inbound HTTP request to a websocket connection, as the
// authority does per connected replica.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

// Dial opens an outbound websocket connection to the authority, as the
// replica engine does on (re)connect.
func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}

// WriteJSON marshals v and sends it as a single text frame. Concurrent
// callers are serialized.
func (c *Conn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// ReadJSON blocks for the next text frame and unmarshals it into v.
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

// ReadRaw blocks for the next frame's raw bytes, for callers that need to
// peek at the "type" discriminator before deciding how to decode.
func (c *Conn) ReadRaw() ([]byte, error) {
	_, msg, err := c.ws.ReadMessage()
	return msg, err
}

func (c *Conn) SetReadDeadline(t time.Time) error  { return c.ws.SetReadDeadline(t) }
func (c *Conn) SetPongHandler(h func(string) error) { c.ws.SetPongHandler(h) }

func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
	return c.ws.Close()
}

// DecodeType peeks at a raw message's "type" field without decoding the
// rest of the payload.
func DecodeType(raw []byte) (string, error) {
	var t struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return "", err
	}
	return t.Type, nil
}
