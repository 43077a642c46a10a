// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"labdevice-service/internal/model"
	"labdevice-service/internal/service"
	"labdevice-service/internal/utils"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteWait    = 10 * time.Second
	wsStatusWait   = 10 * time.Second
)

// WebSocketHandler streams device events to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	controllers *service.ControllerService
	bus         *EventBus
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. Browser origins are
// checked against allowedOrigins; an empty list or "*" allows any origin.
func NewWebSocketHandler(
	controllers *service.ControllerService,
	bus *EventBus,
	allowedOrigins []string,
	logger *zap.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		connections: NewConnectionManager(),
		controllers: controllers,
		bus:         bus,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// Run forwards bus events to clients until ctx is done or the bus stops
func (h *WebSocketHandler) Run(ctx context.Context) {
	id, events := h.bus.Subscribe()
	defer h.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastEvent(event)
		}
	}
}

// HandleEventConnection streams events of every controller, optionally
// narrowed by the controller and topics query parameters
// @Summary Event stream
// @Description Upgrade to a WebSocket streaming device events
// @Tags WebSocket
// @Param controller query string false "Only events of this controller"
// @Param topics query string false "Comma separated event types"
// @Success 101 "Switching protocols"
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	var controller *string
	if name := c.Query("controller"); name != "" {
		controller = &name
	}
	h.serve(c, controller)
}

// HandleControllerConnection streams the events of one controller and
// sends its current state first
// @Summary Controller event stream
// @Description Upgrade to a WebSocket streaming the events of one controller
// @Tags WebSocket
// @Param controller path string true "Controller name"
// @Success 101 "Switching protocols"
// @Failure 404 {object} utils.APIResponse "Controller not found"
// @Router /ws/controllers/{controller} [get]
func (h *WebSocketHandler) HandleControllerConnection(c *gin.Context) {
	name := c.Param("controller")
	info, err := h.controllers.GetController(name)
	if err != nil {
		respondError(c, h.logger, "Controller not found", err)
		return
	}

	client := h.serve(c, &name)
	if client != nil {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "initial_status",
			Data:      info,
			Timestamp: time.Now(),
		})
	}
}

func (h *WebSocketHandler) serve(c *gin.Context, controller *string) *Client {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return nil
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Controller:  controller,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	for _, topic := range strings.Split(c.Query("topics"), ",") {
		if topic = strings.TrimSpace(topic); topic != "" {
			client.Subscribe(model.EventType(strings.ToUpper(topic)))
		}
	}

	h.connections.Register(client)
	h.logger.Info("WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Stringp("controller", controller),
	)

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
	return client
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		topic, ok := stringField(message.Data, "topic")
		if !ok {
			h.sendError(client, message.RequestID, "topic is required")
			return
		}
		client.Subscribe(model.EventType(strings.ToUpper(topic)))
		h.sendMessage(client, &WebSocketMessage{
			Type:      "subscription_confirmed",
			Data:      map[string]interface{}{"topics": client.Topics()},
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	case "unsubscribe":
		if topic, ok := stringField(message.Data, "topic"); ok {
			client.Unsubscribe(model.EventType(strings.ToUpper(topic)))
		}

	case "device_status":
		go h.sendDeviceStatus(client, message)

	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})

	default:
		h.sendError(client, message.RequestID, "unknown message type: "+message.Type)
	}
}

// sendDeviceStatus answers a device_status request with the device's
// current state
func (h *WebSocketHandler) sendDeviceStatus(client *Client, message *WebSocketMessage) {
	controller, ok := stringField(message.Data, "controller")
	if !ok && client.Controller != nil {
		controller, ok = *client.Controller, true
	}
	device, hasDevice := stringField(message.Data, "device")
	if !ok || !hasDevice {
		h.sendError(client, message.RequestID, "controller and device are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsStatusWait)
	defer cancel()

	state, err := h.controllers.DeviceInfo(ctx, controller, device)
	if err != nil {
		h.sendError(client, message.RequestID, err.Error())
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "device_status",
		Data:      state,
		Timestamp: time.Now(),
		RequestID: message.RequestID,
	})
}

func stringField(data interface{}, key string) (string, bool) {
	fields, ok := data.(map[string]interface{})
	if !ok {
		return "", false
	}
	value, ok := fields[key].(string)
	return value, ok && value != ""
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client gone or send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// BroadcastEvent sends a device event to every interested client
func (h *WebSocketHandler) BroadcastEvent(event *model.DeviceEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "device_event",
		Data:      event,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, id := range h.connections.Broadcast(event, messageBytes) {
		h.logger.Warn("Client send channel full during broadcast", zap.String("client_id", id))
	}
}

// GetConnectionStats returns connection statistics
// @Summary WebSocket connections
// @Description List connected WebSocket clients
// @Tags WebSocket
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket connections retrieved", h.connections.GetStats())
}
