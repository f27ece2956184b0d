package engine

import (
	"fmt"
	"time"

	"trainyard.dev/internal/sim/railway"
)

// Journal entry kinds.
const (
	EntryCommand   = "command"
	EntryRouting   = "routing"
	EntryRemoval   = "removal"
	EntryDerail    = "derail"
	EntryFallback  = "fallback"
	EntryNodeClick = "node_click"
	EntryShutdown  = "shutdown"
)

// JournalEntry records one state-changing event. Target names the subject,
// e.g. "node:3" or "train:12".
type JournalEntry struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Command string    `json:"command,omitempty"`
	Target  string    `json:"target,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Err     string    `json:"err,omitempty"`
}

type Journal interface {
	Write(JournalEntry) error
}

// Store persists the graph on shutdown and returns the new snapshot id.
type Store interface {
	Save(docs railway.Documents) (string, error)
}

func target(kind string, id uint32) string { return fmt.Sprintf("%s:%d", kind, id) }

func (e *Engine) journalWrite(ent JournalEntry) {
	if e.journal == nil {
		return
	}
	if ent.Time.IsZero() {
		ent.Time = e.now()
	}
	if err := e.journal.Write(ent); err != nil {
		e.log.Printf("journal write failed: kind=%s err=%v", ent.Kind, err)
	}
}
