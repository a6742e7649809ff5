// Command authority runs the collabtext sync authority: the server-side
// coordinator that persists operations, rebases per-library logs, and
// relays changes to connected replicas. Connection setup follows the
// usual pgxpool + redis pattern, generalized from a single hardcoded
// document to per-library Managers.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collabtext/sync/internal/authority"
	"github.com/collabtext/sync/internal/baseline"
	"github.com/collabtext/sync/internal/broadcast"
	"github.com/collabtext/sync/internal/config"
	"github.com/collabtext/sync/internal/discovery"
	"github.com/collabtext/sync/internal/metrics"
	"github.com/collabtext/sync/internal/model"
	"github.com/collabtext/sync/internal/oplog"
	"github.com/collabtext/sync/internal/registry"
	"github.com/collabtext/sync/internal/storage/postgres"
	"github.com/collabtext/sync/internal/transport"
)

// pgStores opens per-library postgres-backed storage on demand, satisfying
// authority.Stores.
type pgStores struct {
	pool *pgxpool.Pool
}

func (s pgStores) OpenOperationLog(library string) oplog.Log { return postgres.NewOperationLog(s.pool, library) }
func (s pgStores) OpenBaselineStore(library string) baseline.Store {
	return postgres.NewBaselineStore(s.pool, library)
}
func (s pgStores) OpenRegistry(library string) registry.Registry {
	return postgres.NewRegistry(s.pool, library)
}
func (s pgStores) OpenCompactor(library string) oplog.Compactor {
	return postgres.NewCompactor(s.pool, library)
}
func (s pgStores) OpenStep2Committer(library string) authority.Step2Committer {
	return postgres.NewSyncCommitter(s.pool, library)
}

// server holds the process-wide state the HTTP handler closes over. ctx is
// the process lifetime, distinct from any single request's context: it's
// what each library's single-writer goroutine runs under, so that
// goroutine outlives the connection that happened to create it.
type server struct {
	ctx context.Context
	mgr *authority.Manager
}

// tokenFromRequest extracts the already-verified caller identity from the request.
// Token issuance and verification happen upstream of this process; this
// reads the two claims the rest of the system needs from plain query
// parameters, the way a reverse proxy terminating real auth would
// forward them as trusted headers.
func tokenFromRequest(r *http.Request) model.TokenInfo {
	q := r.URL.Query()
	typ := model.ReplicaType(q.Get("type"))
	if typ == "" {
		typ = model.Realtime
	}
	return model.TokenInfo{UserID: q.Get("userId"), Type: typ}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	library := strings.TrimPrefix(r.URL.Path, "/ws/")
	if library == "" {
		http.Error(w, "missing library in path", http.StatusBadRequest)
		return
	}
	token := tokenFromRequest(r)
	if token.UserID == "" {
		http.Error(w, "missing userId", http.StatusUnauthorized)
		return
	}

	conn, err := transport.Accept(w, r)
	if err != nil {
		log.Printf("authority: upgrade failed: %v", err)
		return
	}

	lib := s.mgr.Get(s.ctx, library)
	metrics.ConnectedReplicas(library, lib.Connected())
	lib.Serve(r.Context(), conn, token)
	metrics.ConnectedReplicas(library, lib.Connected())
}

func main() {
	cfg := config.LoadAuthorityConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("authority: unable to connect to postgres: %v", err)
	}
	defer dbpool.Close()
	if err := postgres.Migrate(ctx, dbpool); err != nil {
		log.Fatalf("authority: migrate: %v", err)
	}
	log.Println("authority: connected to postgres")

	bus := broadcast.NewBus(cfg.RedisAddr)
	if err := bus.Ping(ctx); err != nil {
		log.Fatalf("authority: unable to connect to redis: %v", err)
	}
	defer bus.Close()
	log.Println("authority: connected to redis")

	mgr := authority.NewManager(pgStores{pool: dbpool}, cfg, bus)
	srv := &server{ctx: ctx, mgr: mgr}

	if addr := os.Getenv("COLLABTEXT_ADVERTISE"); addr != "" {
		if zsrv, err := discovery.Advertise("_collabtext-authority._tcp", "collabtext-authority", 8081); err != nil {
			log.Printf("authority: mDNS advertise failed: %v", err)
		} else {
			defer zsrv.Shutdown()
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", srv.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/debug/metrics", metrics.DisplayMetrics)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go func() {
		log.Printf("authority: listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("authority: serve: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("authority: shutting down")
	cancel()
	_ = httpSrv.Close()
}
