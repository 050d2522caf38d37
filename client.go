package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 80
	maxNameLen        = 16
	maxSessionNameLen = 30
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	sendMu     sync.Mutex
	sendClosed bool
	memberID   string
	sessionID  string
	role       string
	remoteAddr string
	msgCount   int
	msgResetAt time.Time
	log        zerolog.Logger
	// Auth state
	authPilotID  int64  // 0 = guest
	authUsername string // "" = guest
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		log:        hub.log.With().Str("remote", remoteAddr).Logger(),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn().Err(err).Msg("ws error")
			}
			break
		}

		now := time.Now()
		if now.After(c.msgResetAt) {
			c.msgCount = 0
			c.msgResetAt = now.Add(time.Second)
		}
		c.msgCount++
		if c.msgCount > maxMessagesPerSec {
			c.log.Warn().Msg("rate limit exceeded, disconnecting")
			break
		}

		if msgType == websocket.BinaryMessage {
			c.handleBinaryInput(message)
		} else {
			c.handleMessage(message)
		}
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// 0xFF marks frames queued by SendBinary
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Msg("marshal")
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message. Slow clients drop
// messages; sends after closeSend are ignored.
func (c *Client) SendRaw(data []byte) {
	c.enqueue(data)
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
func (c *Client) SendBinary(data []byte) {
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF
	copy(msg[1:], data)
	c.enqueue(msg)
}

// enqueue reports whether msg made it into the send buffer
func (c *Client) enqueue(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once; WritePump then sends a close frame
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Debug().Err(err).Msg("unmarshal")
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgGunner:
		c.handleGunner(env.D)
	case MsgInput:
		c.handleInput(env.D)
	case MsgFire:
		c.withGame(func(g *Game) { g.HandleFire(c.memberID) })
	case MsgReset:
		c.withGame(func(g *Game) { g.HandleReset(c.memberID) })
	case MsgLeave:
		c.handleLeave()
	case MsgRegister:
		c.handleRegister(env.D)
	case MsgLogin:
		c.handleLogin(env.D)
	case MsgAuth:
		c.handleAuth(env.D)
	case MsgProfile:
		c.handleProfile()
	}
}

func (c *Client) withGame(fn func(*Game)) {
	if c.sessionID == "" || c.memberID == "" {
		return
	}
	sess, err := c.hub.sessions.GetSession(c.sessionID)
	if err != nil {
		return
	}
	fn(sess.Game)
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgSessions, Data: c.hub.sessions.ListSessions()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if len(data) > 0 {
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
	}
	sname := strings.TrimSpace(msg.SessionName)
	if sname == "" {
		sname = "Sortie"
	}
	if len(sname) > maxSessionNameLen {
		sname = sname[:maxSessionNameLen]
	}

	sess, err := c.hub.sessions.CreateSession(sname)
	if err != nil {
		c.sendError("too many active sorties")
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: map[string]string{"sid": sess.ID}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	if c.sessionID != "" {
		c.sendError("already in a sortie")
		return
	}
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	name := c.displayName(msg.Name)

	sess, err := c.hub.sessions.GetSession(msg.SessionID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	id, err := sess.Game.AddPilot(name, c.authPilotID, c, msg.Bin)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	c.memberID = id
	c.sessionID = sess.ID
	c.role = RolePilot

	welcome := WelcomeMsg{ID: id}
	if token, err := c.hub.auth.GunnerToken(sess.ID); err == nil {
		welcome.GunnerToken = token
		welcome.GunnerURL = gunnerURL(c.hub.cfg.Server.PublicURL, sess.ID, token)
	} else {
		c.log.Error().Err(err).Msg("signing gunner token")
	}

	c.SendJSON(Envelope{T: MsgJoined, Data: map[string]string{"sid": sess.ID, "role": RolePilot}})
	c.SendJSON(Envelope{T: MsgWelcome, Data: welcome})
}

func (c *Client) handleGunner(data json.RawMessage) {
	if c.sessionID != "" {
		c.sendError("already in a sortie")
		return
	}
	var msg GunnerMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.hub.auth.ValidateGunnerToken(msg.Token, msg.SessionID); err != nil {
		c.sendError(ErrInvalidToken.Error())
		return
	}
	sess, err := c.hub.sessions.GetSession(msg.SessionID)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	id, err := sess.Game.AttachGunner(c.displayName(""), c.authPilotID, c, msg.Bin)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.hub.sessions.MarkActive(sess.ID)
	c.memberID = id
	c.sessionID = sess.ID
	c.role = RoleGunner
	c.SendJSON(Envelope{T: MsgGunnerOK, Data: map[string]string{"sid": sess.ID, "id": id}})
}

func (c *Client) displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.authUsername
	}
	if name == "" {
		name = "Pilot"
	}
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// handleBinaryInput decodes a compact 4-byte input frame
func (c *Client) handleBinaryInput(msg []byte) {
	in, reset, ok := DecodeBinaryInput(msg)
	if !ok {
		return
	}
	c.withGame(func(g *Game) {
		g.HandleInput(c.memberID, in)
		if reset {
			g.HandleReset(c.memberID)
		}
	})
}

func (c *Client) handleInput(data json.RawMessage) {
	var in ClientInput
	if err := json.Unmarshal(data, &in); err != nil {
		return
	}
	c.withGame(func(g *Game) { g.HandleInput(c.memberID, in) })
}

func (c *Client) handleLeave() {
	if c.sessionID == "" {
		return
	}
	c.hub.sessions.RemoveMember(c.sessionID, c.memberID)
	c.sessionID = ""
	c.memberID = ""
	c.role = ""
}

func (c *Client) handleRegister(data json.RawMessage) {
	var msg RegisterMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Register(msg.Username, msg.Password)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.setAuth(id, strings.TrimSpace(msg.Username), token)
}

func (c *Client) handleLogin(data json.RawMessage) {
	var msg LoginMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, token, err := c.hub.auth.Login(msg.Username, msg.Password, c.remoteAddr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.setAuth(id, msg.Username, token)
}

func (c *Client) handleAuth(data json.RawMessage) {
	var msg AuthMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	id, username, err := c.hub.auth.ValidateToken(msg.Token)
	if err != nil {
		c.sendError(ErrInvalidToken.Error())
		return
	}
	c.setAuth(id, username, msg.Token)
}

func (c *Client) setAuth(id int64, username, token string) {
	c.authPilotID = id
	c.authUsername = username
	c.log = c.log.With().Int64("pilot", id).Logger()
	c.SendJSON(Envelope{T: MsgAuthOK, Data: AuthOKMsg{
		Token:    token,
		Username: username,
		PilotID:  id,
	}})
}

func (c *Client) handleProfile() {
	if c.hub.db == nil || c.authPilotID == 0 {
		c.sendError("not authenticated")
		return
	}
	stats, err := c.hub.db.GetStats(c.authPilotID)
	if err != nil || stats == nil {
		if err != nil {
			c.log.Error().Err(err).Msg("loading profile")
		}
		c.sendError("profile not found")
		return
	}
	c.SendJSON(Envelope{T: MsgProfileData, Data: ProfileDataMsg{
		Username: c.authUsername,
		Shots:    stats.Shots,
		Hits:     stats.Hits,
		Accuracy: stats.Accuracy(),
		Sorties:  stats.Sorties,
		Airtime:  stats.Airtime,
	}})
}

// gunnerURL is the link a second device opens to take the turret
func gunnerURL(base, sid, token string) string {
	return fmt.Sprintf("%s/%s?gunner=%s", strings.TrimRight(base, "/"), sid, url.QueryEscape(token))
}
