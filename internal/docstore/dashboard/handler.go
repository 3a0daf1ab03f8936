package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aneuhold/taskd/internal/docstore/queue"
	"github.com/aneuhold/taskd/internal/docstore/recur"
	"github.com/aneuhold/taskd/internal/docstore/schema"
	"github.com/aneuhold/taskd/internal/docstore/store"
)

// DocUpdateData contains document change information
type DocUpdateData struct {
	Kind   string   `json:"kind"`
	Action string   `json:"action"` // written, deleted
	IDs    []string `json:"ids"`
	Titles []string `json:"titles,omitempty"`
}

// SyncCompleteData contains reconciliation information
type SyncCompleteData struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

// StatsData contains document statistics
type StatsData struct {
	Tasks        int `json:"tasks"`
	Open         int `json:"open"`
	Completed    int `json:"completed"`
	Recurring    int `json:"recurring"`
	Notes        int `json:"notes"`
	QueuePending int `json:"queue_pending"`
	QueueFailed  int `json:"queue_failed"`
}

// Handler subscribes to store, queue and recurrence activity and formats it
// as dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger

	mu    sync.Mutex
	stats StatsData
}

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{
		server: server,
		logger: logger,
	}
	server.SetWelcome(h.statsMessage)
	return h
}

// AttachTasks follows writes, deletes and replacements on the task store.
func (h *Handler) AttachTasks(tasks *store.Store[*schema.Task]) {
	tasks.OnWrite(func(changed []*schema.Task) {
		data := DocUpdateData{Kind: schema.KindTasks, Action: "written"}
		for _, t := range changed {
			data.IDs = append(data.IDs, t.ID)
			data.Titles = append(data.Titles, t.Title)
		}
		h.send(MessageTypeDocUpdate, data)
		h.UpdateTaskStats(tasks.All())
	})
	tasks.OnDelete(func(removed []*schema.Task) {
		h.send(MessageTypeDocUpdate, DocUpdateData{Kind: schema.KindTasks, Action: "deleted", IDs: taskIDs(removed)})
		h.UpdateTaskStats(tasks.All())
	})
	tasks.OnReplace(func(all map[string]*schema.Task) {
		h.logger.Printf("Tasks replaced: %d documents", len(all))
		h.send(MessageTypeSyncComplete, SyncCompleteData{Kind: schema.KindTasks, Count: len(all)})
		list := make([]*schema.Task, 0, len(all))
		for _, t := range all {
			list = append(list, t)
		}
		h.UpdateTaskStats(list)
	})
}

// AttachNotes follows the note store.
func (h *Handler) AttachNotes(notes *store.Store[*schema.Note]) {
	notes.OnWrite(func(changed []*schema.Note) {
		ids := make([]string, 0, len(changed))
		for _, n := range changed {
			ids = append(ids, n.ID)
		}
		h.send(MessageTypeDocUpdate, DocUpdateData{Kind: schema.KindNotes, Action: "written", IDs: ids})
		h.setNotes(notes.Len())
	})
	notes.OnDelete(func(removed []*schema.Note) {
		ids := make([]string, 0, len(removed))
		for _, n := range removed {
			ids = append(ids, n.ID)
		}
		h.send(MessageTypeDocUpdate, DocUpdateData{Kind: schema.KindNotes, Action: "deleted", IDs: ids})
		h.setNotes(notes.Len())
	})
	notes.OnReplace(func(all map[string]*schema.Note) {
		h.send(MessageTypeSyncComplete, SyncCompleteData{Kind: schema.KindNotes, Count: len(all)})
		h.setNotes(len(all))
	})
}

// OnQueueDrain handles a completed queue drain.
func (h *Handler) OnQueueDrain(s queue.Stats) {
	h.mu.Lock()
	h.stats.QueuePending = s.Pending
	h.stats.QueueFailed = s.Failed
	h.mu.Unlock()

	h.send(MessageTypeQueueDrain, s)
	h.broadcastStats()
}

// OnRecurrence handles a recurrence engine event.
func (h *Handler) OnRecurrence(ev recur.Event) {
	if ev.Type != recur.EventScheduled {
		h.logger.Printf("Recurrence %s: %s", ev.Type, ev.TaskID)
	}
	h.send(MessageTypeRecurrence, ev)
}

// UpdateTaskStats recomputes task statistics from a full task list.
func (h *Handler) UpdateTaskStats(tasks []*schema.Task) {
	h.mu.Lock()
	h.stats.Tasks = len(tasks)
	h.stats.Open, h.stats.Completed, h.stats.Recurring = 0, 0, 0
	for _, t := range tasks {
		if t.Completed {
			h.stats.Completed++
		} else {
			h.stats.Open++
		}
		if recur.IsOrigin(t) {
			h.stats.Recurring++
		}
	}
	h.mu.Unlock()

	h.broadcastStats()
}

// GetStats returns the current statistics
func (h *Handler) GetStats() StatsData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

func (h *Handler) setNotes(n int) {
	h.mu.Lock()
	h.stats.Notes = n
	h.mu.Unlock()
	h.broadcastStats()
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats() {
	h.server.Broadcast(h.statsMessage())
}

func (h *Handler) statsMessage() Message {
	dataJSON, err := json.Marshal(h.GetStats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
	}
	return Message{
		Type:      MessageTypeStats,
		Timestamp: time.Now(),
		Data:      dataJSON,
	}
}

func (h *Handler) send(typ MessageType, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func taskIDs(ts []*schema.Task) []string {
	ids := make([]string, 0, len(ts))
	for _, t := range ts {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids
}
