package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"

	fx "github.com/robotalks/crsflink/pkg/framework"
	"github.com/robotalks/crsflink/pkg/transport"
)

// Controller is what the HTTP API controls.
type Controller interface {
	Source
	Peers() *transport.PeerTable
	SetModel(id uint8)
}

// Server serves the HTTP API of a bridge.
type Server struct {
	ID         string
	Addr       string
	Controller Controller
}

// NewServer creates a Server.
func NewServer(id, addr string, ctl Controller) *Server {
	return &Server{ID: id, Addr: addr, Controller: ctl}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.Status)
	r.Get("/channels", s.Channels)
	r.Get("/peers", s.ListPeers)
	r.Put("/model/{id}", s.SelectModel)
	return r
}

// Run implements framework.Runnable.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	glog.Infof("http listening on %s", s.Addr)
	return fx.RunWithContextCancel(ctx, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, NewLinkStatus(s.ID, s.Controller.Snapshot()))
}

// Channels handles GET /channels.
func (s *Server) Channels(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, NewChannelsEvent(s.ID, s.Controller.Snapshot()))
}

// PeerInfo is an entry of GET /peers.
type PeerInfo struct {
	Model int    `json:"model"`
	Peer  string `json:"peer"`
}

// ListPeers handles GET /peers.
func (s *Server) ListPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.Controller.Peers().Peers()
	list := make([]PeerInfo, len(peers))
	for n, p := range peers {
		list[n] = PeerInfo{Model: n, Peer: string(p)}
	}
	jsonResponse(w, http.StatusOK, list)
}

// SelectModel handles PUT /model/{id}.
func (s *Server) SelectModel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 0 || id > 255 {
		errorResponse(w, http.StatusBadRequest, "invalid model id")
		return
	}
	peer, ok := s.Controller.Peers().Lookup(id)
	if !ok {
		errorResponse(w, http.StatusNotFound, "no peer for model "+strconv.Itoa(id))
		return
	}
	s.Controller.SetModel(uint8(id))
	glog.Infof("model %d selected over http: %s", id, peer)
	jsonResponse(w, http.StatusOK, PeerInfo{Model: id, Peer: string(peer)})
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}
