package api

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/yuin/goldmark"

	"github.com/dbincident/diagd/pkg/dialogue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // every deployment fronts this with its own auth proxy
	},
}

// clientMessage is the client→server envelope: {"type":"message"
// |"command","content":"string"}.
type clientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// serverMessage is the server→client envelope: {"type":"output","html":
// "string"} for each emission, {"type":"close","html":"string"} to
// terminate the connection.
type serverMessage struct {
	Type string `json:"type"`
	HTML string `json:"html"`
}

const chatConnTimeout = 5 * time.Minute

// chatHandler upgrades the connection and runs one dialogue session for
// its lifetime — session id is implicit, one per connection.
func (s *Server) chatHandler(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sess := &chatSession{conn: conn, mgr: s.mgr}
	sess.run(c.Request.Context())
}

// chatSession tracks the one dialogue session bound to a single
// connection, and the running turn count used by /status.
type chatSession struct {
	conn      *websocket.Conn
	mgr       *dialogue.Manager
	sessionID string
	turns     int
}

func (cs *chatSession) run(ctx context.Context) {
	for {
		var msg clientMessage
		if err := cs.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}

		turnCtx, cancel := context.WithTimeout(ctx, chatConnTimeout)
		closed := cs.dispatch(turnCtx, msg)
		cancel()
		if closed {
			return
		}
	}
}

// dispatch handles one client envelope and reports whether the
// connection should now be closed.
func (cs *chatSession) dispatch(ctx context.Context, msg clientMessage) bool {
	if msg.Type == "command" {
		return cs.handleCommand(ctx, strings.TrimSpace(msg.Content))
	}
	return cs.handleMessage(ctx, msg.Content)
}

func (cs *chatSession) handleMessage(ctx context.Context, content string) bool {
	var resp *dialogue.Response
	var err error
	if cs.sessionID == "" {
		resp, err = cs.mgr.StartConversation(ctx, content)
	} else {
		resp, err = cs.mgr.ContinueConversation(ctx, cs.sessionID, content)
	}
	if err != nil {
		cs.sendOutput(fmt.Sprintf("internal error: %v", err))
		return false
	}

	cs.sessionID = resp.SessionID
	cs.turns++
	if resp.Kind == dialogue.KindError {
		cs.sendOutput("error: " + resp.Error)
		return false
	}
	cs.sendOutput(resp.Message)
	return false
}

func (cs *chatSession) handleCommand(ctx context.Context, content string) bool {
	switch {
	case strings.HasPrefix(content, "/help"):
		cs.sendOutput("commands: /help, /reset, /exit, /status")
		return false
	case strings.HasPrefix(content, "/reset"):
		cs.sessionID = ""
		cs.turns = 0
		cs.sendOutput("session reset — describe your problem to start a new diagnosis")
		return false
	case strings.HasPrefix(content, "/status"):
		if cs.sessionID == "" {
			cs.sendOutput("no session started yet")
			return false
		}
		cs.sendOutput(fmt.Sprintf("session %s, %d turn(s) so far", cs.sessionID, cs.turns))
		return false
	case strings.HasPrefix(content, "/exit"):
		cs.sendClose("goodbye")
		return true
	default:
		cs.sendOutput("unrecognized command; try /help")
		return false
	}
}

func (cs *chatSession) sendOutput(markdown string) {
	cs.send(serverMessage{Type: "output", HTML: renderHTML(markdown)})
}

func (cs *chatSession) sendClose(markdown string) {
	cs.send(serverMessage{Type: "close", HTML: renderHTML(markdown)})
}

func (cs *chatSession) send(msg serverMessage) {
	if err := cs.conn.WriteJSON(msg); err != nil {
		slog.Warn("websocket write error", "error", err)
	}
}

// renderHTML converts a dialogue response's Markdown body to the HTML
// fragment the wire protocol carries. goldmark never errors on well-
// formed input; a render failure falls back to an escaped plain-text
// line so the client never sees raw Markdown as if it were HTML.
func renderHTML(markdown string) string {
	var buf strings.Builder
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return buf.String()
}
