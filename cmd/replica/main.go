// Command replica runs a standalone collabtext sync replica: local SQLite
// storage, the ReplicaEngine, and the websocket protocol client against an
// authority, with mDNS discovery as a fallback when no explicit address is
// configured, generalized from an in-memory document to the full
// local-first engine.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/collabtext/sync/internal/config"
	"github.com/collabtext/sync/internal/discovery"
	"github.com/collabtext/sync/internal/replicaengine"
	"github.com/collabtext/sync/internal/storage/sqlite"
	"github.com/collabtext/sync/internal/transport"
	"github.com/collabtext/sync/internal/wire"
)

func main() {
	library := flag.String("library", "", "library name to sync")
	userID := flag.String("user-id", "", "authenticated user id for this replica")
	replicaType := flag.String("type", "realtime", "replica type: realtime, push, pull, read-only-realtime, read-only-pull")
	flag.Parse()

	if *library == "" || *userID == "" {
		log.Fatal("replica: -library and -user-id are required")
	}

	cfg := config.LoadReplicaConfig()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sqlite.Open(ctx, cfg.SQLitePath)
	if err != nil {
		log.Fatalf("replica: open sqlite: %v", err)
	}
	defer db.Close()

	replicaID, err := loadOrCreateReplicaID(ctx, db)
	if err != nil {
		log.Fatalf("replica: replica id: %v", err)
	}

	engine := replicaengine.NewEngine(replicaID,
		sqlite.NewOperationLog(db), sqlite.NewBaselineStore(db), sqlite.NewCompactor(db), sqlite.NewOutboundQueue(db))

	dial := makeDialer(cfg, *library, *userID, *replicaType)
	proto := replicaengine.NewProtocol(engine, cfg, dial)
	proto.OnPresenceChanged(func(msg wire.PresenceChanged) {
		log.Printf("replica: presence changed user=%s", msg.UserInfo.UserID)
	})
	proto.OnPresenceOffline(func(msg wire.PresenceOffline) {
		log.Printf("replica: presence offline user=%s", msg.UserID)
	})

	go proto.Run(ctx)
	log.Printf("replica: started replica=%s library=%s", replicaID, *library)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("replica: shutting down")
	cancel()
}

// loadOrCreateReplicaID persists a UUID in replica_meta the first time a
// replica runs against this local database, so the same logical replica
// keeps the same id across restarts (a fresh id forces a full resync).
func loadOrCreateReplicaID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT value FROM replica_meta WHERE key = 'replica_id'`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.NewString()
	_, err = db.ExecContext(ctx, `INSERT INTO replica_meta (key, value) VALUES ('replica_id', ?)`, id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func makeDialer(cfg *config.ReplicaConfig, library, userID, replicaType string) replicaengine.Dialer {
	return func(ctx context.Context) (*transport.Conn, error) {
		base := cfg.AuthorityURL
		if base == "" {
			discoverCtx, cancel := context.WithTimeout(ctx, cfg.DiscoveryTimeout)
			defer cancel()
			found, err := discovery.FindAuthority(discoverCtx, cfg.DiscoveryService)
			if err != nil {
				return nil, fmt.Errorf("replica: discovery: %w", err)
			}
			base = found
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("replica: bad authority url: %w", err)
		}
		u.Path = "/ws/" + library
		q := u.Query()
		q.Set("userId", userID)
		q.Set("type", replicaType)
		u.RawQuery = q.Encode()
		return transport.Dial(u.String())
	}
}
