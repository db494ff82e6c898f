package server

import (
	"fmt"
	"sync"
	"time"

	"evhub/internal"
	"evhub/internal/scheduler"
	"evhub/metrics/counters"
	"evhub/models"
	"evhub/ocpp/core"
	"evhub/ocpp/remotetrigger"
	"evhub/power"
	"evhub/registry"
	"evhub/types"
	"evhub/utility"
)

const (
	defaultHeartbeatInterval = 30 // seconds
	defaultIdTag             = "AdminUser"

	provisioningDelay = 2 * time.Second
)

// configuration pushed to every charger shortly after it connects
var provisioningKeys = map[string]string{
	"AuthorizeRemoteTxRequests": "true",
	"MeterValueSampleInterval":  "10",
	"MeterValuesSampledData":    "Voltage,Current.Import,Power.Active.Import,Energy.Active.Import.Register",
	"ClockAlignedDataInterval":  "0",
}

// SystemHandler is the protocol state machine: it owns the reaction to
// every inbound OCPP request and to every dashboard command, and keeps
// the registry, the balancer and the dashboards in agreement.
type SystemHandler struct {
	registry *registry.Registry
	sender   power.Sender
	sched    scheduler.Scheduler
	logger   internal.LogHandler
	hub      Broadcaster
	store    internal.SessionStore
	balancer *power.Balancer
	stopper  *StopSequencer
	settings *power.Settings

	eventHandlers []internal.EventHandler

	mu                sync.Mutex
	nextTransactionId int
	timerTasks        map[string][]*scheduler.Task
}

func NewSystemHandler(reg *registry.Registry, sched scheduler.Scheduler, logger internal.LogHandler) *SystemHandler {
	return &SystemHandler{
		registry:          reg,
		sched:             sched,
		logger:            logger,
		nextTransactionId: int(time.Now().Unix()),
		timerTasks:        make(map[string][]*scheduler.Task),
	}
}

func (h *SystemHandler) SetSender(sender power.Sender) {
	h.sender = sender
}

func (h *SystemHandler) SetBroadcaster(hub Broadcaster) {
	h.hub = hub
}

func (h *SystemHandler) SetSessionStore(store internal.SessionStore) {
	h.store = store
}

func (h *SystemHandler) SetBalancer(balancer *power.Balancer) {
	h.balancer = balancer
}

func (h *SystemHandler) SetStopSequencer(stopper *StopSequencer) {
	h.stopper = stopper
}

func (h *SystemHandler) SetSettings(settings *power.Settings) {
	h.settings = settings
}

func (h *SystemHandler) AddEventHandler(handler internal.EventHandler) {
	h.eventHandlers = append(h.eventHandlers, handler)
}

func (h *SystemHandler) newTransactionId() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextTransactionId++
	return h.nextTransactionId
}

func (h *SystemHandler) notifyEvent(notify func(handler internal.EventHandler, event *internal.EventMessage), event *internal.EventMessage) {
	for _, handler := range h.eventHandlers {
		notify(handler, event)
	}
}

// OnChargerConnect registers the charger and schedules the provisioning
// push; the delay gives the charger time to finish its boot exchange.
func (h *SystemHandler) OnChargerConnect(chargerId string) {
	h.registry.UpsertOnConnect(chargerId)
	h.logger.FeatureEvent("Connect", chargerId, "charge point connected")
	h.hub.Broadcast(newChargerListMessage(h.registry.List()))
	h.sched.After(provisioningDelay, func() { h.provision(chargerId) })
}

func (h *SystemHandler) OnChargerDisconnect(chargerId string) {
	if h.stopper != nil {
		h.stopper.Cancel(chargerId)
	}
	h.registry.MarkDisconnected(chargerId)
	h.logger.FeatureEvent("Disconnect", chargerId, "charge point disconnected")
	h.hub.Broadcast(newChargerListMessage(h.registry.List()))
	h.observeTransactions()
}

func (h *SystemHandler) provision(chargerId string) {
	ch, ok := h.registry.Get(chargerId)
	if !ok || !ch.Connected {
		return
	}
	if _, err := h.sender.SendRequest(chargerId, core.NewGetConfigurationRequest(nil)); err != nil {
		h.logger.Warn(fmt.Sprintf("provisioning %s: configuration readback failed: %s", chargerId, err))
		return
	}
	delay := 500 * time.Millisecond
	for key, value := range provisioningKeys {
		key, value := key, value
		h.sched.After(delay, func() {
			if _, err := h.sender.SendRequest(chargerId, core.NewChangeConfigurationRequest(key, value)); err != nil {
				h.logger.Warn(fmt.Sprintf("provisioning %s: %s not delivered: %s", chargerId, key, err))
			}
		})
		delay += 500 * time.Millisecond
	}
}

func (h *SystemHandler) OnBootNotification(chargerId string, request *core.BootNotificationRequest) *core.BootNotificationResponse {
	h.logger.FeatureEvent(core.BootNotificationFeatureName, chargerId, fmt.Sprintf("%s %s; firmware %s", request.ChargePointVendor, request.ChargePointModel, request.FirmwareVersion))
	return core.NewBootNotificationResponse(types.NewDateTime(h.sched.Now()), defaultHeartbeatInterval, core.RegistrationStatusAccepted)
}

func (h *SystemHandler) OnHeartbeat(chargerId string, _ *core.HeartbeatRequest) *core.HeartbeatResponse {
	h.logger.Debug(fmt.Sprintf("heartbeat from %s", chargerId))
	return core.NewHeartbeatResponse(types.NewDateTime(h.sched.Now()))
}

func (h *SystemHandler) OnStatusNotification(chargerId string, request *core.StatusNotificationRequest) *core.StatusNotificationResponse {
	h.logger.FeatureEvent(core.StatusNotificationFeatureName, chargerId, fmt.Sprintf("connector %v is %s", request.ConnectorId, request.Status))
	status := chargerStatus(request.Status)

	if status == models.StatusCharging {
		if ch, ok := h.registry.Get(chargerId); ok && !ch.IsCharging {
			h.recoverSession(chargerId)
		}
	}
	h.registry.ApplyStatus(chargerId, status)

	h.notifyEvent(internal.EventHandler.OnStatusNotification, &internal.EventMessage{
		ChargerId: chargerId,
		Time:      h.sched.Now(),
		Status:    string(request.Status),
		Info:      request.Info,
	})
	h.hub.Broadcast(newStatusMessage(chargerId, status, request.Info))
	h.observeTransactions()
	return core.NewStatusNotificationResponse()
}

// recoverSession opens a server-side session for a charger that reports
// Charging without a known transaction, e.g. after the server restarted
// mid-session. The energy baseline is unknown until the next register
// reading arrives.
func (h *SystemHandler) recoverSession(chargerId string) {
	txId := h.newTransactionId()
	if !h.registry.BeginRecoveredTransaction(chargerId, txId, h.sched.Now()) {
		return
	}
	h.logger.FeatureEvent(core.StatusNotificationFeatureName, chargerId, fmt.Sprintf("charging without known transaction, recovered as %v", txId))
	if _, err := h.sender.SendRequest(chargerId, remotetrigger.NewTriggerMessageRequest(remotetrigger.TriggerMeterValues, 1)); err != nil {
		h.logger.Warn(fmt.Sprintf("session recovery %s: meter values trigger failed: %s", chargerId, err))
	}
	h.hub.Broadcast(newChargingMessage(chargerId, true, txId, 0, "session recovered"))
}

func (h *SystemHandler) OnMeterValues(chargerId string, request *core.MeterValuesRequest) *core.MeterValuesResponse {
	sample := parseMeterSample(request, h.sched.Now())
	ch, dlbTouched, err := h.registry.ApplyMeterSample(chargerId, sample)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("meter values from unknown charger %s", chargerId))
		return core.NewMeterValuesResponse()
	}
	h.hub.Broadcast(newMeterMessage(&ch, sample.Timestamp))
	if dlbTouched {
		h.hub.Broadcast(newDlbMessage(chargerId, ch.Dlb))
		if h.balancer != nil && ch.IsCharging {
			h.balancer.Allocate(chargerId)
		}
	}
	return core.NewMeterValuesResponse()
}

func (h *SystemHandler) OnStartTransaction(chargerId string, request *core.StartTransactionRequest) *core.StartTransactionResponse {
	start := h.sched.Now()
	if request.Timestamp != nil {
		start = request.Timestamp.Time
	}
	txId := h.newTransactionId()
	if !h.registry.BeginTransaction(chargerId, txId, float64(request.MeterStart), start) {
		ch, _ := h.registry.Get(chargerId)
		h.logger.Warn(fmt.Sprintf("start transaction from %s rejected, transaction %v already running", chargerId, ch.TransactionId))
		return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusConcurrentTx), ch.TransactionId)
	}
	h.logger.FeatureEvent(core.StartTransactionFeatureName, chargerId, fmt.Sprintf("transaction %v started, meter %v", txId, request.MeterStart))

	h.notifyEvent(internal.EventHandler.OnTransactionStart, &internal.EventMessage{
		ChargerId:     chargerId,
		Time:          start,
		TransactionId: txId,
	})
	h.hub.Broadcast(newChargingMessage(chargerId, true, txId, 0, "charging started"))
	h.observeTransactions()
	return core.NewStartTransactionResponse(types.NewIdTagInfo(types.AuthorizationStatusAccepted), txId)
}

func (h *SystemHandler) OnStopTransaction(chargerId string, request *core.StopTransactionRequest) *core.StopTransactionResponse {
	end := h.sched.Now()
	if request.Timestamp != nil {
		end = request.Timestamp.Time
	}
	session, err := h.registry.EndTransaction(chargerId, request.TransactionId, float64(request.MeterStop), end)
	if err != nil {
		h.logger.Warn(fmt.Sprintf("stop transaction from %s: %s", chargerId, err))
		return core.NewStopTransactionResponse()
	}
	session.StopReason = stopReason(request.Reason)
	h.persistSession(session)
	h.logger.FeatureEvent(core.StopTransactionFeatureName, chargerId, fmt.Sprintf("transaction %v stopped, %v kWh in %v min", session.TransactionId, session.EnergyKwh, session.Duration))

	h.notifyEvent(internal.EventHandler.OnTransactionStop, &internal.EventMessage{
		ChargerId:     chargerId,
		Time:          end,
		TransactionId: session.TransactionId,
		Info:          fmt.Sprintf("%.3f kWh", session.EnergyKwh),
	})
	h.hub.Broadcast(newChargingMessage(chargerId, false, session.TransactionId, session.EnergyKwh, "charging stopped"))
	if ch, ok := h.registry.Get(chargerId); ok {
		h.hub.Broadcast(newMeterMessage(&ch, end))
	}
	h.observeTransactions()
	return core.NewStopTransactionResponse()
}

// PersistSession saves a finished session; storage failures never reach
// the charger, they are logged and counted only.
func (h *SystemHandler) persistSession(session *models.Session) {
	if h.store == nil {
		return
	}
	if err := h.store.SaveSession(session); err != nil {
		h.logger.Error(fmt.Sprintf("saving session of %s", session.ChargerId), err)
		return
	}
	counters.ObserveSessionSaved()
}

// PersistSession is the stop sequencer's hook into session storage.
func (h *SystemHandler) PersistSession(session *models.Session) {
	h.persistSession(session)
}

// OnDashboardCommand dispatches a command received over a dashboard
// socket. Unknown chargers and unknown actions are no-ops beyond a log
// line.
func (h *SystemHandler) OnDashboardCommand(command *DashboardCommand) {
	switch command.Action {
	case "START":
		h.RemoteStart(command.ChargerId)
	case "STOP":
		h.RemoteStop(command.ChargerId)
	case "SET_TIMER":
		h.SetTimer(command.ChargerId, command.Timer)
	case "CANCEL_TIMER":
		h.CancelTimer(command.ChargerId)
	default:
		h.logger.Warn(fmt.Sprintf("unknown dashboard action: %s", command.Action))
	}
}

func (h *SystemHandler) RemoteStart(chargerId string) {
	ch, ok := h.registry.Get(chargerId)
	if !ok || !ch.Connected {
		h.logger.Warn(fmt.Sprintf("remote start: charger %s not connected", chargerId))
		return
	}
	if ch.IsCharging {
		h.logger.Debug(fmt.Sprintf("remote start: %s is already charging", chargerId))
		return
	}
	if _, err := h.sender.SendRequest(chargerId, core.NewRemoteStartTransactionRequest(defaultIdTag)); err != nil {
		h.logger.Error(fmt.Sprintf("remote start for %s", chargerId), err)
	}
}

func (h *SystemHandler) RemoteStop(chargerId string) {
	if h.stopper == nil {
		return
	}
	h.stopper.Begin(chargerId)
}

// SetTimer stores the timer and schedules its server-side expiry. The
// server owns the timeline: duration timers stop charging after the
// countdown, schedule timers start and stop at their wall-clock marks.
func (h *SystemHandler) SetTimer(chargerId string, timer *models.Timer) {
	if timer == nil {
		h.logger.Warn(fmt.Sprintf("set timer for %s without timer payload", chargerId))
		return
	}
	if !h.registry.SetTimer(chargerId, timer) {
		return
	}
	h.cancelTimerTasks(chargerId)

	var tasks []*scheduler.Task
	now := h.sched.Now()
	switch timer.Mode {
	case models.TimerModeDuration:
		if timer.Duration <= 0 {
			h.logger.Warn(fmt.Sprintf("duration timer for %s without duration", chargerId))
			return
		}
		h.RemoteStart(chargerId)
		tasks = append(tasks, h.sched.After(time.Duration(timer.Duration)*time.Minute, func() {
			h.expireTimer(chargerId)
		}))
	case models.TimerModeSchedule:
		if timer.End == nil {
			h.logger.Warn(fmt.Sprintf("schedule timer for %s without end time", chargerId))
			return
		}
		if timer.Start != nil && timer.Start.After(now) {
			tasks = append(tasks, h.sched.After(timer.Start.Sub(now), func() {
				h.RemoteStart(chargerId)
			}))
		} else {
			h.RemoteStart(chargerId)
		}
		if timer.End.After(now) {
			tasks = append(tasks, h.sched.After(timer.End.Sub(now), func() {
				h.expireTimer(chargerId)
			}))
		}
	default:
		h.logger.Warn(fmt.Sprintf("unknown timer mode for %s: %s", chargerId, timer.Mode))
		return
	}

	h.mu.Lock()
	h.timerTasks[chargerId] = tasks
	h.mu.Unlock()

	h.logger.FeatureEvent("Timer", chargerId, fmt.Sprintf("timer set, mode %s", timer.Mode))
	h.hub.Broadcast(newChargerListMessage(h.registry.List()))
}

func (h *SystemHandler) CancelTimer(chargerId string) {
	h.cancelTimerTasks(chargerId)
	if h.registry.SetTimer(chargerId, nil) {
		h.logger.FeatureEvent("Timer", chargerId, "timer cancelled")
		h.hub.Broadcast(newChargerListMessage(h.registry.List()))
	}
}

func (h *SystemHandler) cancelTimerTasks(chargerId string) {
	h.mu.Lock()
	tasks := h.timerTasks[chargerId]
	delete(h.timerTasks, chargerId)
	h.mu.Unlock()
	for _, task := range tasks {
		task.Cancel()
	}
}

func (h *SystemHandler) expireTimer(chargerId string) {
	h.mu.Lock()
	delete(h.timerTasks, chargerId)
	h.mu.Unlock()
	h.registry.SetTimer(chargerId, nil)
	h.logger.FeatureEvent("Timer", chargerId, "timer expired, stopping charging")
	h.RemoteStop(chargerId)
	h.hub.Broadcast(newChargerListMessage(h.registry.List()))
}

// UpdateDlbConfig applies a partial settings update, announces the new
// configuration to dashboards and recomputes every allocation.
func (h *SystemHandler) UpdateDlbConfig(update power.ConfigUpdate) power.Config {
	cfg := h.settings.Apply(update)
	h.logger.FeatureEvent("DlbConfig", "", "load balancing configuration updated")
	h.hub.Broadcast(newDlbConfigMessage(cfg))
	if h.balancer != nil {
		h.balancer.AllocateAll()
	}
	return cfg
}

func (h *SystemHandler) observeTransactions() {
	active := 0
	for _, ch := range h.registry.List() {
		if ch.IsCharging {
			active++
		}
	}
	counters.ObserveTransactions(active)
}

func chargerStatus(status core.ChargePointStatus) models.ChargerStatus {
	switch status {
	case core.ChargePointStatusAvailable:
		return models.StatusOnline
	case core.ChargePointStatusPreparing:
		return models.StatusPreparing
	case core.ChargePointStatusCharging, core.ChargePointStatusSuspendedEV:
		return models.StatusCharging
	case core.ChargePointStatusFinishing:
		return models.StatusFinishing
	default:
		return models.StatusUnknown
	}
}

func stopReason(reason core.Reason) string {
	switch reason {
	case core.ReasonRemote:
		return models.StopReasonRemote
	case "":
		return models.StopReasonLocal
	default:
		return string(reason)
	}
}

// parseMeterSample flattens an OCPP MeterValues payload into one sample.
// Site telemetry arrives either as vendor measurands or as standard
// measurands qualified with a location.
func parseMeterSample(request *core.MeterValuesRequest, now time.Time) models.MeterSample {
	sample := models.MeterSample{Timestamp: now}
	for _, meterValue := range request.MeterValue {
		if meterValue.Timestamp != nil {
			sample.Timestamp = meterValue.Timestamp.Time
		}
		for _, sampled := range meterValue.SampledValue {
			v := utility.ToFloat(sampled.Value)
			switch {
			case sampled.Measurand == types.MeasurandVoltage:
				sample.Voltage = &v
			case sampled.Measurand == types.MeasurandCurrentImport:
				sample.Current = &v
			case sampled.Measurand == types.MeasurandEnergyActiveImportRegister:
				sample.EnergyRegister = &v
			case sampled.Measurand == types.MeasurandPowerImportGrid,
				sampled.Measurand == types.MeasurandPowerActiveImport && sampled.Location == types.LocationGrid:
				sample.GridPower = &v
			case sampled.Measurand == types.MeasurandPowerImportPV,
				sampled.Measurand == types.MeasurandPowerActiveExport && sampled.Location == types.LocationSolar:
				sample.PvPower = &v
			case sampled.Measurand == types.MeasurandPowerImportHome,
				sampled.Measurand == types.MeasurandPowerActiveImport && sampled.Location == types.LocationHome:
				sample.HomeLoad = &v
			case sampled.Measurand == types.MeasurandPowerActiveImport || sampled.Measurand == "":
				sample.Power = &v
			}
		}
	}
	return sample
}
