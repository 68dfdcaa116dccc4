package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/wardsim/wardsim/internal/domain/patient"
	"github.com/wardsim/wardsim/internal/domain/session"
	"github.com/wardsim/wardsim/internal/engine"
	"github.com/wardsim/wardsim/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ClientMessage is one inbound command from a connected client.
type ClientMessage struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler owns the WebSocket endpoint: it upgrades connections, binds them to
// sessions and users, and routes inbound commands to the session service and
// the tick runner.
type Handler struct {
	hub      *Hub
	sessions *session.Service
	runner   *engine.Runner
	stores   engine.Stores
	issuer   *auth.Issuer
	log      zerolog.Logger
	upgrader gorillawebsocket.Upgrader
}

// NewHandler wires the WebSocket handler.
func NewHandler(hub *Hub, sessions *session.Service, runner *engine.Runner, stores engine.Stores, issuer *auth.Issuer, log zerolog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		sessions: sessions,
		runner:   runner,
		stores:   stores,
		issuer:   issuer,
		log:      log,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checking is delegated to the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the WebSocket endpoint.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the HTTP request and runs the connection until the
// client goes away.
func (h *Handler) HandleConnect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.New().String(),
		Send: make(chan []byte, 256),
	}
	h.hub.Register(client)

	go h.writePump(conn, client)
	h.readPump(conn, client)
	return nil
}

func (h *Handler) readPump(conn *gorillawebsocket.Conn, client *Client) {
	defer func() {
		h.disconnect(client)
		conn.Close()
	}()

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if gorillawebsocket.IsUnexpectedCloseError(err, gorillawebsocket.CloseGoingAway, gorillawebsocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("websocket read error")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, "Invalid message format.")
			continue
		}
		h.dispatch(client, msg)
	}
}

func (h *Handler) writePump(conn *gorillawebsocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) disconnect(client *Client) {
	if client.UserID != uuid.Nil {
		if err := h.sessions.DetachClient(context.Background(), client.UserID); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("detach on disconnect failed")
		}
	}
	h.hub.Unregister(client)
}

func (h *Handler) dispatch(client *Client, msg ClientMessage) {
	ctx := context.Background()

	switch msg.Action {
	case "session:join":
		h.handleJoin(ctx, client, msg.Payload)
	case "session:state":
		h.sendState(ctx, client)
	case "facilitator:create":
		h.handleCreate(ctx, client, msg.Payload)
	case "facilitator:auth":
		h.handleAuth(ctx, client, msg.Payload)
	case "facilitator:assign_patient":
		h.handleAssignPatient(ctx, client, msg.Payload)
	case "facilitator:auto_assign":
		h.handleAutoAssign(ctx, client)
	case "facilitator:start":
		h.handleFacilitator(client, func() error { return h.runner.Start(ctx, client.SessionID) })
	case "facilitator:pause":
		h.handleFacilitator(client, func() error { return h.runner.Pause(ctx, client.SessionID) })
	case "facilitator:resume":
		h.handleFacilitator(client, func() error { return h.runner.Resume(ctx, client.SessionID) })
	case "facilitator:end":
		h.handleEnd(ctx, client)
	case "facilitator:toggle_resource":
		h.handleToggleResource(ctx, client, msg.Payload)
	case "facilitator:inject":
		h.handleInject(ctx, client, msg.Payload)
	case "action:submit":
		h.handleSubmitAction(ctx, client, msg.Payload)
	default:
		h.sendError(client, "Unknown action.")
	}
}

func (h *Handler) handleJoin(ctx context.Context, client *Client, payload json.RawMessage) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}

	u, sess, err := h.sessions.Join(ctx, req.Code, req.Name, client.ID)
	if err != nil {
		h.sendError(client, joinErrorMessage(err))
		return
	}

	client.UserID = u.ID
	client.SessionID = sess.ID
	client.Role = string(u.Role)
	h.hub.Subscribe(client, []string{sess.ID.String()})

	h.send(client, "session:joined", map[string]interface{}{
		"user":    u,
		"session": sess,
	})
	h.broadcast(sess.ID, "user:joined", map[string]interface{}{"user": u})
	h.sendState(ctx, client)
}

func (h *Handler) handleCreate(ctx context.Context, client *Client, payload json.RawMessage) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
		PIN        string `json:"pin"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}

	cv, err := h.stores.Configs.Latest(ctx)
	if err != nil {
		h.sendError(client, "No clinical configuration loaded.")
		return
	}
	scenario, err := h.stores.Scenarios.GetByID(ctx, req.ScenarioID)
	if err != nil {
		h.sendError(client, "Unknown scenario.")
		return
	}

	sess, err := h.sessions.Create(ctx, req.ScenarioID, cv.ID, req.PIN)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	if _, err := h.runner.InitializeSession(ctx, sess, scenario, &cv.Config); err != nil {
		h.sendError(client, "Failed to initialise session.")
		return
	}
	fac, err := h.sessions.Authenticate(ctx, sess.ID, req.PIN, client.ID)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	token, err := h.issuer.Issue(sess.ID, fac.ID)
	if err != nil {
		h.sendError(client, "Failed to issue facilitator token.")
		return
	}

	client.UserID = fac.ID
	client.SessionID = sess.ID
	client.Role = string(session.RoleFacilitator)
	h.hub.Subscribe(client, []string{sess.ID.String()})

	h.send(client, "session:created", map[string]interface{}{
		"session": sess,
		"user":    fac,
		"token":   token,
	})
	h.sendState(ctx, client)
}

func (h *Handler) handleAuth(ctx context.Context, client *Client, payload json.RawMessage) {
	var req struct {
		SessionID uuid.UUID `json:"session_id"`
		PIN       string    `json:"pin"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}

	fac, err := h.sessions.Authenticate(ctx, req.SessionID, req.PIN, client.ID)
	if err != nil {
		h.sendError(client, authErrorMessage(err))
		return
	}
	token, err := h.issuer.Issue(req.SessionID, fac.ID)
	if err != nil {
		h.sendError(client, "Failed to issue facilitator token.")
		return
	}

	client.UserID = fac.ID
	client.SessionID = req.SessionID
	client.Role = string(session.RoleFacilitator)
	h.hub.Subscribe(client, []string{req.SessionID.String()})

	h.send(client, "facilitator:authenticated", map[string]interface{}{
		"user":  fac,
		"token": token,
	})
	h.sendState(ctx, client)
}

func (h *Handler) handleAssignPatient(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireFacilitator(client) {
		return
	}
	var req struct {
		UserID    uuid.UUID `json:"user_id"`
		PatientID uuid.UUID `json:"patient_id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}
	u, err := h.sessions.AssignPatient(ctx, req.UserID, req.PatientID)
	if err != nil {
		h.sendError(client, "User not found.")
		return
	}
	h.broadcast(client.SessionID, "user:assigned", map[string]interface{}{"user": u})
}

func (h *Handler) handleAutoAssign(ctx context.Context, client *Client) {
	if !h.requireFacilitator(client) {
		return
	}
	assigned, err := h.sessions.AutoAssign(ctx, client.SessionID)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	for _, u := range assigned {
		h.broadcast(client.SessionID, "user:assigned", map[string]interface{}{"user": u})
	}
}

func (h *Handler) handleFacilitator(client *Client, fn func() error) {
	if !h.requireFacilitator(client) {
		return
	}
	if err := fn(); err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) handleEnd(ctx context.Context, client *Client) {
	if !h.requireFacilitator(client) {
		return
	}
	debrief, err := h.runner.End(ctx, client.SessionID)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	h.broadcast(client.SessionID, "session:ended", map[string]interface{}{"debrief": debrief})
}

func (h *Handler) handleToggleResource(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireFacilitator(client) {
		return
	}
	var req struct {
		Resource  string `json:"resource"`
		Available bool   `json:"available"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}
	if err := h.runner.ToggleResource(ctx, client.SessionID, req.Resource, req.Available); err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) handleInject(ctx context.Context, client *Client, payload json.RawMessage) {
	if !h.requireFacilitator(client) {
		return
	}
	var req struct {
		Category string                 `json:"category"`
		Detail   map[string]interface{} `json:"detail"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}
	if err := h.runner.InjectEvent(ctx, client.SessionID, req.Category, req.Detail); err != nil {
		h.sendError(client, err.Error())
	}
}

func (h *Handler) handleSubmitAction(ctx context.Context, client *Client, payload json.RawMessage) {
	if client.UserID == uuid.Nil {
		h.sendError(client, "Not authenticated.")
		return
	}
	var req struct {
		PatientID    uuid.UUID             `json:"patient_id"`
		ActionKey    string                `json:"action_key"`
		Prescription *patient.Prescription `json:"prescription,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		h.sendError(client, "Invalid message format.")
		return
	}

	sub, err := h.runner.SubmitAction(ctx, req.PatientID, req.ActionKey, client.UserID, req.Prescription)
	if err != nil {
		h.sendError(client, err.Error())
		return
	}
	h.send(client, "action:accepted", map[string]interface{}{
		"patient_id":            req.PatientID,
		"action_key":            req.ActionKey,
		"delay_ms":              sub.DelayMs,
		"prescription_feedback": sub.PrescriptionFeedback,
	})
}

// sendState pushes a full session snapshot to one client, used on join, auth
// and reconnect.
func (h *Handler) sendState(ctx context.Context, client *Client) {
	if client.SessionID == uuid.Nil {
		h.sendError(client, "Not authenticated.")
		return
	}
	sess, err := h.stores.Sessions.GetByID(ctx, client.SessionID)
	if err != nil {
		h.sendError(client, "Session not found.")
		return
	}
	users, err := h.stores.Users.ListBySession(ctx, sess.ID)
	if err != nil {
		h.sendError(client, "Failed to load session state.")
		return
	}
	patients, err := h.stores.Patients.ListBySession(ctx, sess.ID)
	if err != nil {
		h.sendError(client, "Failed to load session state.")
		return
	}
	events, err := h.stores.Events.ListBySession(ctx, sess.ID)
	if err != nil {
		h.sendError(client, "Failed to load session state.")
		return
	}
	resources, err := h.stores.Resources.Get(ctx, sess.ID)
	if err != nil {
		h.sendError(client, "Failed to load session state.")
		return
	}

	state := map[string]interface{}{
		"session":   sess,
		"users":     users,
		"patients":  patients,
		"events":    events,
		"resources": resources,
		"user_id":   client.UserID,
	}
	if cv, err := h.stores.Configs.GetByID(ctx, sess.ConfigID); err == nil {
		state["action_definitions"] = cv.Config.Investigations
	}
	if scenario, err := h.stores.Scenarios.GetByID(ctx, sess.ScenarioID); err == nil {
		state["scenario"] = map[string]interface{}{
			"id":               scenario.ID,
			"name":             scenario.Name,
			"briefing":         scenario.Briefing,
			"duration_minutes": scenario.DurationMinutes,
		}
	}
	h.send(client, "session:state", state)
}

func (h *Handler) requireFacilitator(client *Client) bool {
	if client.SessionID == uuid.Nil {
		h.sendError(client, "Not authenticated.")
		return false
	}
	if client.Role != string(session.RoleFacilitator) {
		h.sendError(client, "Facilitator access required.")
		return false
	}
	return true
}

func (h *Handler) send(client *Client, eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Warn().Err(err).Str("type", eventType).Msg("marshal outbound event")
		return
	}
	h.hub.SendTo(client, Event{
		Type:      eventType,
		Topic:     client.SessionID.String(),
		Timestamp: time.Now(),
		Data:      raw,
	})
}

func (h *Handler) broadcast(sessionID uuid.UUID, eventType string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.log.Warn().Err(err).Str("type", eventType).Msg("marshal outbound event")
		return
	}
	h.hub.Broadcast(sessionID.String(), Event{
		Type:      eventType,
		Topic:     sessionID.String(),
		Timestamp: time.Now(),
		Data:      raw,
	})
}

func (h *Handler) sendError(client *Client, message string) {
	h.send(client, "session:error", map[string]string{"message": message})
}

// joinErrorMessage converts service errors to the participant-facing strings.
func joinErrorMessage(err error) string {
	switch err.Error() {
	case "session not found, check your code":
		return "Session not found. Check your code."
	case "this session has ended":
		return "This session has ended."
	default:
		return err.Error()
	}
}

func authErrorMessage(err error) string {
	switch err.Error() {
	case "incorrect PIN":
		return "Incorrect PIN."
	case "session not found":
		return "Session not found."
	default:
		return err.Error()
	}
}
