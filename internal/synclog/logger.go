// Package synclog provides the structured-event logger shared by the
// authority and the replica engine. It wraps the standard library's
// *log.Logger with one method per event kind and key=value fields.
package synclog

import (
	"log"
	"os"
	"time"
)

// Logger tags every line with the library it belongs to.
type Logger struct {
	library string
	logger  *log.Logger
}

func New(library string) *Logger {
	return &Logger{
		library: library,
		logger:  log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds),
	}
}

func (l *Logger) OpIngested(replicaID string, count int) {
	l.logger.Printf("OP_INGESTED: library=%s replica=%s count=%d", l.library, replicaID, count)
}

func (l *Logger) OpDropped(reason string) {
	l.logger.Printf("OP_DROPPED: library=%s reason=%s", l.library, reason)
}

func (l *Logger) RebasePass(oids int, globalAck string, dur time.Duration) {
	l.logger.Printf("REBASE_PASS: library=%s oids=%d global_ack=%s duration_ms=%.2f",
		l.library, oids, globalAck, float64(dur.Microseconds())/1000.0)
}

func (l *Logger) RebaseSkipped(reason string) {
	l.logger.Printf("REBASE_SKIPPED: library=%s reason=%s", l.library, reason)
}

func (l *Logger) SyncHandshake(replicaID, status string, overwrite bool) {
	l.logger.Printf("SYNC_HANDSHAKE: library=%s replica=%s status=%s overwrite=%t",
		l.library, replicaID, status, overwrite)
}

func (l *Logger) ReplicaTruant(replicaID string, lastSeen time.Time) {
	l.logger.Printf("REPLICA_TRUANT: library=%s replica=%s last_seen=%s",
		l.library, replicaID, lastSeen.Format(time.RFC3339))
}

func (l *Logger) PresenceChanged(userID, replicaID string) {
	l.logger.Printf("PRESENCE_CHANGED: library=%s user=%s replica=%s", l.library, userID, replicaID)
}

func (l *Logger) PresenceOffline(userID string) {
	l.logger.Printf("PRESENCE_OFFLINE: library=%s user=%s", l.library, userID)
}

func (l *Logger) Forbidden(replicaID, reason string) {
	l.logger.Printf("FORBIDDEN: library=%s replica=%s reason=%s", l.library, replicaID, reason)
}

func (l *Logger) Error(op string, err error) {
	l.logger.Printf("ERROR: library=%s op=%s error=%s", l.library, op, err)
}

func (l *Logger) ConnReconnecting(replicaID string, attempt int, wait time.Duration) {
	l.logger.Printf("CONN_RECONNECTING: replica=%s attempt=%d wait_ms=%d",
		replicaID, attempt, wait.Milliseconds())
}
