// Admin HTTP surface: local control plane for the agent
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"responderd/internal/capture"
	"responderd/internal/duty"
	"responderd/internal/geo"
	"responderd/internal/mission"
	"responderd/internal/queue"
	"responderd/internal/syncer"
)

// Server exposes the agent's operations over a local HTTP port. It is a
// control plane for an operator or UI shell, not the ingestion path.
type Server struct {
	duty      *duty.Machine
	missions  *mission.Machine
	offers    *mission.OfferGenerator
	engine    *syncer.Engine
	queue     *queue.Queue
	capture   *capture.Coordinator
	logger    *slog.Logger
	deviceID  string
	arrivalM  float64
	startedAt time.Time
}

// New wires the server to its collaborators. arrivalMeters <= 0 selects
// the default arrival threshold.
func New(
	dutyMachine *duty.Machine,
	missions *mission.Machine,
	offers *mission.OfferGenerator,
	engine *syncer.Engine,
	q *queue.Queue,
	capturer *capture.Coordinator,
	deviceID string,
	arrivalMeters float64,
	logger *slog.Logger,
) *Server {
	if arrivalMeters <= 0 {
		arrivalMeters = mission.DefaultArrivalThresholdMeters
	}
	return &Server{
		duty:      dutyMachine,
		missions:  missions,
		offers:    offers,
		engine:    engine,
		queue:     q,
		capture:   capturer,
		logger:    logger.With("component", "admin"),
		deviceID:  deviceID,
		arrivalM:  arrivalMeters,
		startedAt: time.Now(),
	}
}

// Router builds the chi handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Post("/sync/trigger", s.handleSyncTrigger)
		r.Post("/duty/toggle", s.handleDutyToggle)
		r.Post("/location/refresh", s.handleLocationRefresh)
		r.Post("/app-state", s.handleAppState)
		r.Route("/missions", func(r chi.Router) {
			r.Post("/simulate", s.handleMissionSimulate)
			r.Post("/accept", s.handleMissionAccept)
			r.Post("/decline", s.handleMissionDecline)
			r.Post("/arrived", s.handleMissionArrived)
			r.Post("/complete", s.handleMissionComplete)
			r.Post("/reset", s.handleMissionReset)
		})
	})
	return r
}

// Serve runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("admin shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	}
}

// statusPayload aggregates every subsystem for GET /api/status.
type statusPayload struct {
	DeviceID string           `json:"deviceId"`
	Duty     dutyPayload      `json:"duty"`
	Mission  mission.Snapshot `json:"mission"`
	Approach *approachPayload `json:"approach,omitempty"`
	Sync     syncer.State     `json:"sync"`
	Queue    queue.Stats      `json:"queue"`
	Capture  capture.Snapshot `json:"capture"`
}

// approachPayload reports progress towards an active incident, derived
// from the last captured fix.
type approachPayload struct {
	DistanceMeters float64 `json:"distanceMeters"`
	Distance       string  `json:"distance"`
	ETAMinutes     int     `json:"etaMinutes"`
}

type dutyPayload struct {
	State     duty.State   `json:"state"`
	Cadence   duty.Cadence `json:"cadence"`
	CanToggle bool         `json:"canToggle"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, fmt.Errorf("queue stats: %w", err))
		return
	}
	missionSnap := s.missions.Snapshot()
	s.respond(w, http.StatusOK, statusPayload{
		DeviceID: s.deviceID,
		Duty: dutyPayload{
			State:     s.duty.State(),
			Cadence:   s.duty.Config(),
			CanToggle: s.duty.CanToggle(),
		},
		Mission:  missionSnap,
		Approach: s.approach(missionSnap),
		Sync:     s.engine.State(),
		Queue:    stats,
		Capture:  s.capture.Snapshot(),
	})
}

// approach computes distance and ETA to the active incident, nil when no
// mission is underway or no fix has arrived yet.
func (s *Server) approach(snap mission.Snapshot) *approachPayload {
	if snap.Current == nil || (snap.Status != mission.StatusAccepted && snap.Status != mission.StatusArrived) {
		return nil
	}
	last := s.capture.LastSample()
	if last == nil {
		return nil
	}
	dist := geo.DistanceMeters(last.Latitude, last.Longitude,
		snap.Current.Location.Latitude, snap.Current.Location.Longitude)
	return &approachPayload{
		DistanceMeters: dist,
		Distance:       geo.FormatDistance(dist),
		ETAMinutes:     geo.EstimateETAMinutes(dist, 0),
	}
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.respond(w, http.StatusOK, map[string]any{
		"uptimeSeconds": int64(time.Since(s.startedAt).Seconds()),
		"goroutines":    runtime.NumGoroutine(),
		"heapBytes":     mem.HeapAlloc,
		"goVersion":     runtime.Version(),
	})
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, _ *http.Request) {
	s.engine.TriggerImmediate()
	s.respond(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func (s *Server) handleDutyToggle(w http.ResponseWriter, r *http.Request) {
	if !s.duty.CanToggle() {
		s.fail(w, http.StatusConflict, errors.New("duty is managed by the active mission"))
		return
	}
	state := s.duty.Toggle(r.Context())
	s.respond(w, http.StatusOK, map[string]any{"state": state})
}

func (s *Server) handleLocationRefresh(w http.ResponseWriter, r *http.Request) {
	sample, err := s.capture.ForceUpdate(r.Context())
	if err != nil {
		s.fail(w, http.StatusServiceUnavailable, err)
		return
	}
	s.respond(w, http.StatusOK, sample)
}

func (s *Server) handleAppState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State capture.AppState `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	switch body.State {
	case capture.AppActive, capture.AppBackground:
	default:
		s.fail(w, http.StatusBadRequest, fmt.Errorf("unknown app state %q", body.State))
		return
	}
	s.capture.AppStateChanged(body.State)
	s.respond(w, http.StatusOK, map[string]any{"state": body.State})
}

func (s *Server) handleMissionSimulate(w http.ResponseWriter, r *http.Request) {
	offer := s.offers.Next()
	s.missions.Receive(r.Context(), offer)
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

func (s *Server) handleMissionAccept(w http.ResponseWriter, r *http.Request) {
	s.missions.Accept(r.Context())
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

func (s *Server) handleMissionDecline(w http.ResponseWriter, r *http.Request) {
	s.missions.Decline(r.Context())
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

// handleMissionArrived gates the transition on proximity: the last
// captured fix must be within the arrival threshold of the incident.
func (s *Server) handleMissionArrived(w http.ResponseWriter, r *http.Request) {
	snap := s.missions.Snapshot()
	if snap.Status != mission.StatusAccepted || snap.Current == nil {
		s.fail(w, http.StatusConflict, errors.New("no accepted mission"))
		return
	}
	last := s.capture.LastSample()
	if last == nil {
		s.fail(w, http.StatusConflict, errors.New("no location fix yet"))
		return
	}
	dist := geo.DistanceMeters(last.Latitude, last.Longitude,
		snap.Current.Location.Latitude, snap.Current.Location.Longitude)
	if dist > s.arrivalM {
		s.fail(w, http.StatusConflict,
			fmt.Errorf("still %s from the incident", geo.FormatDistance(dist)))
		return
	}
	s.missions.MarkArrived(r.Context())
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

func (s *Server) handleMissionComplete(w http.ResponseWriter, r *http.Request) {
	s.missions.Complete(r.Context())
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

func (s *Server) handleMissionReset(w http.ResponseWriter, r *http.Request) {
	s.missions.Reset(r.Context())
	s.respond(w, http.StatusOK, s.missions.Snapshot())
}

func (s *Server) respond(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.respond(w, code, map[string]string{"error": err.Error()})
}
