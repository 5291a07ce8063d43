// Package api exposes the sequencer's inbound HTTP surface from
// spec.md §7: transaction submission, status lookups, account balances,
// operational stats, and a websocket event stream, all bearer-token
// gated.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/l2labs/sequencer/internal/breaker"
	"github.com/l2labs/sequencer/internal/queue"
	"github.com/l2labs/sequencer/internal/recovery"
	"github.com/l2labs/sequencer/internal/sequencer"
	"github.com/l2labs/sequencer/internal/store"
	"github.com/l2labs/sequencer/internal/workerpool"
	"github.com/l2labs/sequencer/log"
)

// Server bundles the HTTP handlers with the subsystems they front.
type Server struct {
	seq     *sequencer.Sequencer
	store   *store.Store
	q       *queue.Queue
	br      *breaker.Breaker
	pool    *workerpool.Pool
	rec     *recovery.Engine
	auth    Authenticator
	handler http.Handler
	hub     *streamHub
}

// Deps are the already-constructed subsystems the API binds to.
type Deps struct {
	Sequencer *sequencer.Sequencer
	Store     *store.Store
	Queue     *queue.Queue
	Breaker   *breaker.Breaker
	Pool      *workerpool.Pool
	Recovery  *recovery.Engine
	Auth      Authenticator // nil allows every request (dev mode)
}

// New builds a Server and its route table. Call Handler() for the
// http.Handler to pass to an http.Server.
func New(deps Deps) *Server {
	auth := deps.Auth
	if auth == nil {
		auth = noopAuthenticator{}
	}
	s := &Server{
		seq:   deps.Sequencer,
		store: deps.Store,
		q:     deps.Queue,
		br:    deps.Breaker,
		pool:  deps.Pool,
		rec:   deps.Recovery,
		auth:  auth,
		hub:   newStreamHub(),
	}

	router := httprouter.New()
	router.POST("/v1/transactions", s.withAuth(s.handleAddTransaction))
	router.POST("/v1/transactions/priority", s.withAuth(s.handleAddPriorityTransaction))
	router.GET("/v1/transactions/:id", s.withAuth(s.handleGetTransactionStatus))
	router.GET("/v1/batches/:id", s.withAuth(s.handleGetBatchStatus))
	router.GET("/v1/accounts/:address/balance", s.withAuth(s.handleGetAccountBalance))
	router.GET("/v1/stats", s.withAuth(s.handleGetStats))
	router.GET("/v1/stream", s.withAuth(s.handleStream))

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	s.handler = c.Handler(router)
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// Wire connects the server's stream hub to the event feeds it fans out
// over /v1/stream; called once after all subsystems are Start()ed.
func (s *Server) Wire() {
	s.hub.watchQueue(s.q)
	s.hub.watchSequencer(s.seq)
	if s.rec != nil {
		s.hub.watchRecovery(s.rec)
	}
}

func (s *Server) withAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := s.auth.Authenticate(r); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("api: failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
