package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"evhub/internal"
	"evhub/internal/config"
	"evhub/models"
	"evhub/power"
	"evhub/registry"
	"evhub/utility"
)

const (
	historyEndpoint         = "/api/history"
	historyDownloadEndpoint = "/api/history/download"
	chargersEndpoint        = "/api/chargers/all"
	dlbStatusEndpoint       = "/api/dlb/status"
	dlbConfigEndpoint       = "/api/dlb/config"
)

// Server is the REST face of the system: charging history, charger
// inventory and load balancing control.
type Server struct {
	conf       *config.Config
	httpServer *http.Server
	logger     internal.LogHandler
	store      internal.SessionStore
	registry   *registry.Registry
	settings   *power.Settings
	onConfig   func(update power.ConfigUpdate) power.Config
}

func NewServer(conf *config.Config, logger internal.LogHandler, store internal.SessionStore, reg *registry.Registry, settings *power.Settings, onConfig func(update power.ConfigUpdate) power.Config) *Server {
	server := Server{
		conf:     conf,
		logger:   logger,
		store:    store,
		registry: reg,
		settings: settings,
		onConfig: onConfig,
	}
	router := httprouter.New()
	router.GET(historyEndpoint, server.handleHistory)
	router.GET(historyDownloadEndpoint, server.handleHistoryDownload)
	router.GET(chargersEndpoint, server.handleChargers)
	router.GET(dlbStatusEndpoint, server.handleDlbStatus)
	router.POST(dlbConfigEndpoint, server.handleDlbConfig)
	server.httpServer = &http.Server{
		Handler: router,
	}
	return &server
}

func (s *Server) Start() error {
	if s.conf == nil {
		return utility.Err("configuration not loaded")
	}
	serverAddress := fmt.Sprintf("%s:%s", s.conf.Api.BindIP, s.conf.Api.Port)
	s.logger.Debug(fmt.Sprintf("starting api server on %s", serverAddress))
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(listener)
}

func (s *Server) sendJson(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encoding api response", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

type chartPoint struct {
	Label  int     `json:"label"`
	Energy float64 `json:"energy"`
}

type historyResponse struct {
	Period      string       `json:"period"`
	ViewType    string       `json:"viewType"`
	TotalEnergy float64      `json:"totalEnergy"`
	ChartData   []chartPoint `json:"chartData"`
}

// handleHistory aggregates stored sessions into a chart: one point per
// day for a month view, one point per month for a year view.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.store == nil {
		s.sendError(w, http.StatusServiceUnavailable, "session storage is not enabled")
		return
	}
	query := r.URL.Query()
	viewType := query.Get("type")
	if viewType == "" {
		viewType = "month"
	}
	period := query.Get("period")
	if period == "" {
		if viewType == "year" {
			period = time.Now().Format("2006")
		} else {
			period = time.Now().Format("2006-01")
		}
	}
	chargerId := query.Get("chargerId")

	sessions, err := s.store.GetSessionsByPeriod(chargerId, period, viewType)
	if err != nil {
		s.logger.Error("reading session history", err)
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	response := historyResponse{
		Period:   period,
		ViewType: viewType,
	}
	buckets := make(map[int]float64)
	for _, session := range sessions {
		label := int(session.StartTime.Month())
		if viewType == "month" {
			label = session.StartTime.Day()
		}
		buckets[label] += session.EnergyKwh
		response.TotalEnergy += session.EnergyKwh
	}
	points := 12
	if viewType == "month" {
		from, _ := time.Parse("2006-01", period)
		points = from.AddDate(0, 1, -1).Day()
	}
	for label := 1; label <= points; label++ {
		response.ChartData = append(response.ChartData, chartPoint{Label: label, Energy: buckets[label]})
	}
	s.sendJson(w, response)
}

type sessionRow struct {
	Date       string  `json:"date"`
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime"`
	Duration   int     `json:"duration"`
	EnergyKwh  float64 `json:"energyKwh"`
	StopReason string  `json:"stopReason"`
}

func (s *Server) handleHistoryDownload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.store == nil {
		s.sendError(w, http.StatusServiceUnavailable, "session storage is not enabled")
		return
	}
	chargerId := r.URL.Query().Get("chargerId")
	if chargerId == "" {
		s.sendError(w, http.StatusBadRequest, "chargerId is required")
		return
	}
	sessions, err := s.store.GetSessionsByCharger(chargerId)
	if err != nil {
		s.logger.Error("reading sessions for download", err)
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := make([]sessionRow, 0, len(sessions))
	for _, session := range sessions {
		rows = append(rows, sessionRow{
			Date:       session.StartTime.Format("2006-01-02"),
			StartTime:  session.StartTime.Format("15:04:05"),
			EndTime:    session.EndTime.Format("15:04:05"),
			Duration:   session.Duration,
			EnergyKwh:  session.EnergyKwh,
			StopReason: session.StopReason,
		})
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s-sessions.json", chargerId))
	s.sendJson(w, rows)
}

type chargersResponse struct {
	Connected []models.Charger `json:"connected"`
	Known     []string         `json:"known"`
}

// handleChargers merges the live registry with every charger id ever
// seen in storage, so the dashboard can offer history for chargers that
// are currently offline.
func (s *Server) handleChargers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	response := chargersResponse{
		Connected: s.registry.List(),
		Known:     []string{},
	}
	if s.store != nil {
		ids, err := s.store.GetChargerIds()
		if err != nil {
			s.logger.Error("reading charger ids", err)
		} else {
			response.Known = ids
		}
	}
	for _, charger := range response.Connected {
		if !utility.Contains(response.Known, charger.Id) {
			response.Known = append(response.Known, charger.Id)
		}
	}
	s.sendJson(w, response)
}

type dlbStatusResponse struct {
	Config   power.Config               `json:"config"`
	Chargers map[string]models.DlbState `json:"chargers"`
}

func (s *Server) handleDlbStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	response := dlbStatusResponse{
		Config:   s.settings.Snapshot(),
		Chargers: make(map[string]models.DlbState),
	}
	for _, charger := range s.registry.List() {
		response.Chargers[charger.Id] = charger.Dlb
	}
	s.sendJson(w, response)
}

func (s *Server) handleDlbConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var update power.ConfigUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		s.sendError(w, http.StatusBadRequest, "unreadable configuration update")
		return
	}
	cfg := s.onConfig(update)
	s.sendJson(w, cfg)
}
