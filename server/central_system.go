package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"evhub/api"
	"evhub/internal"
	"evhub/internal/config"
	"evhub/internal/scheduler"
	"evhub/logger"
	"evhub/metrics"
	"evhub/ocpp"
	"evhub/ocpp/core"
	"evhub/power"
	"evhub/pusher"
	"evhub/registry"
	"evhub/telegram"
	"evhub/utility"
)

type CentralSystem struct {
	conf      *config.Config
	server    *Server
	apiServer *api.Server
	logger    internal.LogHandler
	handler   *SystemHandler
	balancer  *power.Balancer
	stopper   *StopSequencer

	mu      sync.Mutex
	pending map[string]pendingCommand
}

// pendingCommand remembers which feature was sent to which charger under
// a call's unique id, so the bare CallResult payload can be attributed.
type pendingCommand struct {
	chargerId string
	feature   string
}

func NewCentralSystem(conf *config.Config) (*CentralSystem, error) {
	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %s: %w", conf.TimeZone, err)
	}

	logService := logger.NewLogger(location)
	logService.SetDebugMode(conf.IsDebug)

	var store internal.SessionStore
	if conf.Mongo.Enabled {
		mongo, err := internal.NewMongoClient(conf)
		if err != nil {
			return nil, err
		}
		store = mongo
		logService.SetStore(mongo)
	}

	if conf.Pusher.Enabled {
		messageService, err := pusher.NewPusher(conf)
		if err != nil {
			return nil, err
		}
		logService.SetMessageService(messageService)
	}

	policy := registry.PolicyAlwaysClear
	if conf.RecoveryPolicy == "resume" {
		policy = registry.PolicyResume
	}
	reg := registry.New(policy)

	sched := scheduler.New()
	settings := power.NewSettings(power.Config{
		MainFuseAmps:     conf.Dlb.MainFuseAmps,
		MinChargeAmps:    conf.Dlb.MinChargeAmps,
		MaxChargeAmps:    conf.Dlb.MaxChargeAmps,
		SafetyMarginAmps: conf.Dlb.SafetyMarginAmps,
		NightStartHour:   conf.Dlb.NightStartHour,
		NightEndHour:     conf.Dlb.NightEndHour,
		Modes: power.Modes{
			PvDynamicBalance: conf.Dlb.PvDynamicBalance,
			ExtremeMode:      conf.Dlb.ExtremeMode,
			NightFullSpeed:   conf.Dlb.NightFullSpeed,
			AntiOverload:     conf.Dlb.AntiOverload,
		},
	})

	handler := NewSystemHandler(reg, sched, logService)
	handler.SetSessionStore(store)
	handler.SetSettings(settings)

	cs := &CentralSystem{
		conf:    conf,
		logger:  logService,
		handler: handler,
		pending: make(map[string]pendingCommand),
	}

	wsServer := NewServer(conf, logService)
	wsServer.SetMessageHandler(cs.handleIncomingMessage)
	wsServer.SetDashboardHandler(cs.handleDashboardMessage)
	wsServer.SetDashboardGreeting(func() interface{} {
		return newChargerListMessage(reg.List())
	})
	wsServer.SetConnectHandler(handler.OnChargerConnect)
	wsServer.SetDisconnectHandler(handler.OnChargerDisconnect)
	cs.server = wsServer

	handler.SetSender(cs)
	handler.SetBroadcaster(wsServer)

	interval := time.Duration(conf.Dlb.AllocateIntervalS) * time.Second
	balancer := power.NewBalancer(reg, settings, cs, sched, interval, logService)
	balancer.OnDecision = func(chargerId string, decision power.Decision) {
		wsServer.Broadcast(newDlbTargetMessage(chargerId, decision))
	}
	handler.SetBalancer(balancer)
	cs.balancer = balancer

	stopper := NewStopSequencer(reg, cs, sched, logService, wsServer, handler.PersistSession)
	handler.SetStopSequencer(stopper)
	cs.stopper = stopper

	if conf.Telegram.Enabled {
		bot, err := telegram.NewBot(conf.Telegram.ApiKey)
		if err != nil {
			logService.Error("telegram bot initialization", err)
		} else {
			bot.Start()
			handler.AddEventHandler(bot)
		}
	}

	if conf.Api.Enabled {
		cs.apiServer = api.NewServer(conf, logService, store, reg, settings, handler.UpdateDlbConfig)
	}

	return cs, nil
}

// SendRequest delivers a request to a charger and records the call id so
// the charger's result can be matched back to the feature that caused it.
func (cs *CentralSystem) SendRequest(chargerId string, request ocpp.Request) (string, error) {
	uniqueId, err := cs.server.SendRequest(chargerId, request)
	if err != nil {
		return "", err
	}
	cs.mu.Lock()
	cs.pending[uniqueId] = pendingCommand{chargerId: chargerId, feature: request.GetFeatureName()}
	cs.mu.Unlock()
	return uniqueId, nil
}

func (cs *CentralSystem) takePending(uniqueId string) (pendingCommand, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	command, ok := cs.pending[uniqueId]
	if ok {
		delete(cs.pending, uniqueId)
	}
	return command, ok
}

func (cs *CentralSystem) handleIncomingMessage(ws *WebSocket, data []byte) error {
	chargerId := ws.ID()
	message, err := utility.ParseJson(data)
	if err != nil {
		return fmt.Errorf("decoding message from %s: %w", chargerId, err)
	}
	messageType, err := MessageType(message)
	if err != nil {
		return fmt.Errorf("unreadable message from %s: %w", chargerId, err)
	}
	switch messageType {
	case CallTypeRequest:
		return cs.handleRequest(ws, message)
	case CallTypeResult:
		return cs.handleResult(chargerId, message)
	case CallTypeError:
		cs.logger.Warn(fmt.Sprintf("call error received from %s: %s", chargerId, string(data)))
		return nil
	}
	return nil
}

func (cs *CentralSystem) handleRequest(ws *WebSocket, message []interface{}) error {
	callRequest, err := ParseRequest(message)
	if err != nil {
		return fmt.Errorf("parsing request from %s: %w", ws.ID(), err)
	}
	ws.SetUniqueId(callRequest.UniqueId)

	chargerId := ws.ID()
	var response ocpp.Response
	switch request := callRequest.Payload.(type) {
	case *core.BootNotificationRequest:
		response = cs.handler.OnBootNotification(chargerId, request)
	case *core.HeartbeatRequest:
		response = cs.handler.OnHeartbeat(chargerId, request)
	case *core.StatusNotificationRequest:
		response = cs.handler.OnStatusNotification(chargerId, request)
	case *core.MeterValuesRequest:
		response = cs.handler.OnMeterValues(chargerId, request)
	case *core.StartTransactionRequest:
		response = cs.handler.OnStartTransaction(chargerId, request)
	case *core.StopTransactionRequest:
		response = cs.handler.OnStopTransaction(chargerId, request)
	default:
		return fmt.Errorf("unsupported feature from %s: %s", chargerId, callRequest.GetFeatureName())
	}
	return cs.server.SendResponse(ws, response)
}

func (cs *CentralSystem) handleResult(chargerId string, message []interface{}) error {
	result, err := ParseResult(message)
	if err != nil {
		return fmt.Errorf("parsing result from %s: %w", chargerId, err)
	}
	command, ok := cs.takePending(result.UniqueId)
	if !ok {
		cs.logger.Warn(fmt.Sprintf("result from %s with unknown id %s", chargerId, result.UniqueId))
		return nil
	}

	var status struct {
		Status string `json:"status"`
	}
	if err = json.Unmarshal(result.Payload, &status); err != nil {
		return fmt.Errorf("decoding result payload from %s: %w", chargerId, err)
	}
	if status.Status == "Rejected" {
		cs.logger.FeatureEvent(command.feature, command.chargerId, "command rejected by charge point")
		cs.server.Broadcast(newErrorMessage(command.chargerId, fmt.Sprintf("%s rejected", command.feature)))
		return nil
	}
	cs.logger.FeatureEvent(command.feature, command.chargerId, fmt.Sprintf("command confirmed: %s", status.Status))
	return nil
}

func (cs *CentralSystem) handleDashboardMessage(data []byte) {
	var command DashboardCommand
	if err := json.Unmarshal(data, &command); err != nil {
		cs.logger.Warn(fmt.Sprintf("unreadable dashboard command: %s", string(data)))
		return
	}
	cs.handler.OnDashboardCommand(&command)
}

// Start launches every configured component and blocks for the lifetime
// of the process.
func (cs *CentralSystem) Start() {
	cs.balancer.Start()

	if cs.apiServer != nil {
		go func() {
			if err := cs.apiServer.Start(); err != nil {
				cs.logger.Error("api server stopped", err)
			}
		}()
	}
	go func() {
		if err := metrics.Listen(cs.conf); err != nil {
			cs.logger.Error("metrics server stopped", err)
		}
	}()

	if err := cs.server.Start(); err != nil {
		cs.logger.Error("websocket server stopped", err)
	}
}
