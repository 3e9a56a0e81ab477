package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/w1xm/k3ng_interface/internal/metrics"
	"github.com/w1xm/k3ng_interface/k3ng"
	"github.com/w1xm/k3ng_interface/rotator"
)

// Status is a periodic snapshot of the rotator published to stream clients.
type Status struct {
	Time      time.Time            `json:"time"`
	Azimuth   float64              `json:"azimuth"`
	Elevation float64              `json:"elevation"`
	Tracking  *k3ng.TrackingStatus `json:"tracking,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Server serializes remote callers onto one Service.
type Server struct {
	// mu is held for every call into svc, so concurrent remote callers
	// never interleave commands on the link.
	mu  sync.Mutex
	svc Service

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
}

func NewServer(svc Service) *Server {
	s := &Server{svc: svc}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

// Call invokes a named method with the link held.
func (s *Server) Call(name string, p Params) (interface{}, error) {
	m, ok := methods[name]
	if !ok {
		return nil, errUnknownMethod
	}
	start := time.Now()
	s.mu.Lock()
	result, err := m(s.svc, p)
	s.mu.Unlock()
	kind := "ok"
	if err != nil {
		if kind = k3ng.Kind(err); kind == "" {
			kind = "error"
		}
		log.Warn().Err(err).Str("method", name).Msg("call failed")
	}
	metrics.ObserveCall(name, kind, time.Since(start))
	return result, err
}

var errUnknownMethod = errors.New("unknown method")

// Router returns the HTTP API.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware(func(req *http.Request) string {
		if route := mux.CurrentRoute(req); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				return tmpl
			}
		}
		return "unknown"
	}))
	r.HandleFunc("/api/methods", s.MethodsHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/call/{method}", s.CallHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/status", s.StatusHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/ws", s.StatusSocketHandler)
	r.Handle("/metrics", metrics.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Print(err)
	}
}

func (s *Server) MethodsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Methods())
}

func (s *Server) CallHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["method"]
	var p Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil && err != io.EOF {
		writeJSON(w, http.StatusBadRequest, Response{Error: err.Error(), Kind: "validation"})
		return
	}
	result, err := s.Call(name, p)
	if err != nil {
		code := http.StatusBadGateway
		switch {
		case errors.Is(err, errUnknownMethod):
			code = http.StatusNotFound
		case errors.Is(err, k3ng.ErrValidation):
			code = http.StatusBadRequest
		}
		writeJSON(w, code, Response{Error: err.Error(), Kind: k3ng.Kind(err)})
		return
	}
	var resp Response
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, Response{Error: err.Error()})
			return
		}
		resp.Result = data
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	s.statusMu.RLock()
	status := s.status
	s.statusMu.RUnlock()
	writeJSON(w, http.StatusOK, status)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Command is a call sent over the status socket.
type Command struct {
	Method string `json:"method"`
	Params Params `json:"params"`
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print(err)
		return
	}
	defer conn.Close()
	metrics.StatusClient(1)
	defer metrics.StatusClient(-1)

	// Read and process incoming commands
	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if _, err := s.Call(msg.Method, msg.Params); err != nil {
				log.Warn().Err(err).Str("method", msg.Method).Msg("socket command")
			}
		}
	}()

	s.statusMu.RLock()
	status := s.status
	for {
		s.statusMu.RUnlock()
		if err := conn.WriteJSON(status); err != nil {
			log.Print(err)
			return
		}
		s.statusMu.RLock()
		s.statusCond.Wait()
		status = s.status
		if ctx.Err() != nil {
			s.statusMu.RUnlock()
			return
		}
	}
}

func (s *Server) setStatus(status Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.statusCond.Broadcast()
}

// Poll reads position and tracking status once and publishes the snapshot.
func (s *Server) Poll() Status {
	status := Status{Time: time.Now()}
	s.mu.Lock()
	pos, err := rotator.Read(s.svc)
	var ts k3ng.TrackingStatus
	var terr error
	if err == nil {
		ts, terr = s.svc.TrackingStatus()
	}
	s.mu.Unlock()
	switch {
	case err != nil:
		status.Error = err.Error()
	case terr != nil:
		// No satellite selected is a normal state.
		status.Azimuth, status.Elevation = pos.Azimuth, pos.Elevation
		status.Error = terr.Error()
	default:
		status.Azimuth, status.Elevation = pos.Azimuth, pos.Elevation
		status.Tracking = &ts
	}
	s.setStatus(status)
	return status
}

// Watch polls every interval until ctx is canceled.
func (s *Server) Watch(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.Poll()
		select {
		case <-ctx.Done():
			// Wake stream clients so they notice the shutdown.
			s.statusCond.Broadcast()
			return ctx.Err()
		case <-t.C:
		}
	}
}
