package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"evhub/internal"
	"evhub/internal/config"
	"evhub/metrics/counters"
	"evhub/ocpp"
	"evhub/utility"
)

const (
	wsEndpoint        = "/ws/:id"
	dashboardEndpoint = "/dashboard-ui"

	broadcastWriteWait = 1 * time.Second
)

type Server struct {
	conf              *config.Config
	httpServer        *http.Server
	upgrader          websocket.Upgrader
	messageHandler    func(ws *WebSocket, data []byte) error
	dashboardHandler  func(data []byte)
	dashboardGreeting func() interface{}
	connectHandler    func(chargerId string)
	disconnectHandler func(chargerId string)
	logger            internal.LogHandler

	mu         sync.Mutex
	chargers   map[string]*WebSocket
	dashboards map[*WebSocket]struct{}
}

type WebSocket struct {
	conn     *websocket.Conn
	id       string
	uniqueId string
	writeMu  sync.Mutex
}

func (ws *WebSocket) ID() string {
	return ws.id
}

func (ws *WebSocket) UniqueId() string {
	return ws.uniqueId
}

func (ws *WebSocket) SetUniqueId(uniqueId string) {
	ws.uniqueId = uniqueId
}

func (ws *WebSocket) write(data []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	return ws.conn.WriteMessage(websocket.TextMessage, data)
}

func NewServer(conf *config.Config, logger internal.LogHandler) *Server {
	server := Server{
		conf:       conf,
		logger:     logger,
		upgrader:   websocket.Upgrader{Subprotocols: []string{"ocpp1.6"}},
		chargers:   make(map[string]*WebSocket),
		dashboards: make(map[*WebSocket]struct{}),
	}
	// register itself as a router for httpServer handler
	router := httprouter.New()
	server.Register(router)
	server.httpServer = &http.Server{
		Handler: router,
	}
	return &server
}

func (s *Server) SetMessageHandler(handler func(ws *WebSocket, data []byte) error) {
	s.messageHandler = handler
}

func (s *Server) SetDashboardHandler(handler func(data []byte)) {
	s.dashboardHandler = handler
}

// SetDashboardGreeting sets the state snapshot sent to every dashboard
// right after it connects.
func (s *Server) SetDashboardGreeting(greeting func() interface{}) {
	s.dashboardGreeting = greeting
}

func (s *Server) SetConnectHandler(handler func(chargerId string)) {
	s.connectHandler = handler
}

func (s *Server) SetDisconnectHandler(handler func(chargerId string)) {
	s.disconnectHandler = handler
}

func (s *Server) Register(router *httprouter.Router) {
	router.GET(wsEndpoint, s.handleWsRequest)
	router.GET(dashboardEndpoint, s.handleDashboardRequest)
}

func (s *Server) handleWsRequest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	s.logger.Debug(fmt.Sprintf("connection initiated from remote %s", r.RemoteAddr))

	conn, err := s.upgrade(w, r)
	if err != nil {
		s.logger.Error("upgrade failed: ", err)
		return
	}

	s.logger.Debug(fmt.Sprintf("upgraded socket for %s and ready to receive data", id))
	ws := &WebSocket{
		conn: conn,
		id:   id,
	}

	s.mu.Lock()
	if stale, ok := s.chargers[id]; ok {
		// charger reconnected before the old socket noticed; drop the old one
		_ = stale.conn.Close()
	}
	s.chargers[id] = ws
	connected := len(s.chargers)
	s.mu.Unlock()
	counters.ObserveChargerConnections(connected)

	if s.connectHandler != nil {
		s.connectHandler(id)
	}
	go s.messageReader(ws)
}

func (s *Server) handleDashboardRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrade(w, r)
	if err != nil {
		s.logger.Error("dashboard upgrade failed: ", err)
		return
	}
	ws := &WebSocket{
		conn: conn,
		id:   r.RemoteAddr,
	}
	s.mu.Lock()
	s.dashboards[ws] = struct{}{}
	watching := len(s.dashboards)
	s.mu.Unlock()
	counters.ObserveDashboardConnections(watching)
	s.logger.Debug(fmt.Sprintf("dashboard connected from %s", r.RemoteAddr))

	if s.dashboardGreeting != nil {
		if data, err := json.Marshal(s.dashboardGreeting()); err == nil {
			_ = ws.write(data)
		}
	}
	go s.dashboardReader(ws)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	s.upgrader.CheckOrigin = func(r *http.Request) bool {
		return true
	}
	clientSubProto := websocket.Subprotocols(r)
	requestedProto := ""
	for _, proto := range clientSubProto {
		if utility.Contains(s.upgrader.Subprotocols, proto) {
			requestedProto = proto
			break
		}
	}
	responseHeader := http.Header{}
	if requestedProto != "" {
		responseHeader.Add("Sec-WebSocket-Protocol", requestedProto)
	}
	return s.upgrader.Upgrade(w, r, responseHeader)
}

func (s *Server) messageReader(ws *WebSocket) {
	conn := ws.conn
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, 3001) {
				s.logger.Debug(fmt.Sprintf("id %s leaving session", ws.id))
			} else {
				s.logger.Debug(fmt.Sprintf("id %s is closing session %s", ws.id, err))
			}
			err = conn.Close()
			if err != nil {
				s.logger.Warn(fmt.Sprintf("error while closing socket %s %s", ws.id, err))
			}
			s.dropCharger(ws)
			return
		}
		s.logger.RawDataEvent("IN", string(message))
		if s.messageHandler != nil {
			err = s.messageHandler(ws, message)
			if err != nil {
				s.logger.Error(fmt.Sprintf("handling message from %s", ws.id), err)
				continue
			}
		}
	}
}

func (s *Server) dropCharger(ws *WebSocket) {
	s.mu.Lock()
	current, ok := s.chargers[ws.id]
	if ok && current == ws {
		delete(s.chargers, ws.id)
	} else {
		// a newer socket already replaced this one; do not report disconnect
		ok = false
	}
	connected := len(s.chargers)
	s.mu.Unlock()
	if ok {
		counters.ObserveChargerConnections(connected)
		if s.disconnectHandler != nil {
			s.disconnectHandler(ws.id)
		}
	}
}

func (s *Server) dashboardReader(ws *WebSocket) {
	conn := ws.conn
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			s.mu.Lock()
			delete(s.dashboards, ws)
			watching := len(s.dashboards)
			s.mu.Unlock()
			counters.ObserveDashboardConnections(watching)
			return
		}
		if s.dashboardHandler != nil {
			s.dashboardHandler(message)
		}
	}
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Listen.BindIP, s.conf.Listen.Port)
	s.logger.Debug(fmt.Sprintf("starting server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	if s.conf.Listen.TLS {
		s.logger.Debug("starting https TLS server")
		err = s.httpServer.ServeTLS(listener, s.conf.Listen.CertFile, s.conf.Listen.KeyFile)
	} else {
		s.logger.Debug("starting http server")
		err = s.httpServer.Serve(listener)
	}
	return err
}

func (s *Server) SendResponse(ws *WebSocket, response ocpp.Response) error {
	callResult := CreateCallResult(response, ws.UniqueId())
	data, err := callResult.MarshalJSON()
	if err != nil {
		s.logger.Error("error encoding response", err)
		return err
	}
	s.logger.RawDataEvent("OUT", string(data))
	if err = ws.write(data); err != nil {
		s.logger.Error("error sending response", err)
	}
	return err
}

// SendRequest delivers a Call to the connected charge point and returns
// the unique id of the call for correlation with the later result.
func (s *Server) SendRequest(chargerId string, request ocpp.Request) (string, error) {
	s.mu.Lock()
	ws, ok := s.chargers[chargerId]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no open connection for %s", chargerId)
	}
	call := CreateCall(request)
	data, err := call.MarshalJSON()
	if err != nil {
		return "", err
	}
	s.logger.RawDataEvent("OUT", string(data))
	if err = ws.write(data); err != nil {
		s.logger.Error(fmt.Sprintf("error sending request to %s", chargerId), err)
		return "", err
	}
	return call.UniqueId, nil
}

// Broadcast pushes a message to every connected dashboard. Failed writes
// close the socket; delivery is best effort.
func (s *Server) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("error encoding broadcast message", err)
		return
	}
	s.mu.Lock()
	sockets := make([]*WebSocket, 0, len(s.dashboards))
	for ws := range s.dashboards {
		sockets = append(sockets, ws)
	}
	s.mu.Unlock()
	for _, ws := range sockets {
		ws.writeMu.Lock()
		_ = ws.conn.SetWriteDeadline(time.Now().Add(broadcastWriteWait))
		err = ws.conn.WriteMessage(websocket.TextMessage, data)
		ws.writeMu.Unlock()
		if err != nil {
			_ = ws.conn.Close()
			s.mu.Lock()
			delete(s.dashboards, ws)
			watching := len(s.dashboards)
			s.mu.Unlock()
			counters.ObserveDashboardConnections(watching)
		}
	}
}
