// Package snapshot serves read-only JSON views of every broker's state over
// the dashboard HTTP listener (C8), separate from the binary TCP protocol.
package snapshot

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nexo-broker/nexo/internal/broker/kv"
	"github.com/nexo-broker/nexo/internal/broker/pubsub"
	"github.com/nexo-broker/nexo/internal/broker/queue"
	"github.com/nexo-broker/nexo/internal/broker/stream"
	"github.com/nexo-broker/nexo/internal/protocol"
)

// Handler serves /api/kv, /api/queue, /api/pubsub, /api/stream.
type Handler struct {
	kv     *kv.Broker
	queue  *queue.Broker
	pubsub *pubsub.Broker
	stream *stream.Broker
}

// New builds a snapshot Handler wired to the four brokers.
func New(kvB *kv.Broker, queueB *queue.Broker, pubsubB *pubsub.Broker, streamB *stream.Broker) *Handler {
	return &Handler{kv: kvB, queue: queueB, pubsub: pubsubB, stream: streamB}
}

// Register mounts every snapshot route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/kv", h.serveKV)
	mux.HandleFunc("/api/queue", h.serveQueue)
	mux.HandleFunc("/api/pubsub", h.servePubSub)
	mux.HandleFunc("/api/stream", h.serveStream)
}

// anyJSON renders an Any per spec: Raw as hex, String passed through as
// UTF-8, Json embedded verbatim.
type anyJSON struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func renderAny(a protocol.Any) anyJSON {
	switch a.Type {
	case protocol.DataString:
		return anyJSON{Type: "string", Data: a.AsString()}
	case protocol.DataJSON:
		var v any
		if err := json.Unmarshal(a.Data, &v); err == nil {
			return anyJSON{Type: "json", Data: v}
		}
		return anyJSON{Type: "json", Data: a.AsString()}
	default:
		return anyJSON{Type: "raw", Data: hex.EncodeToString(a.Data)}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type kvEntry struct {
	Key       string    `json:"key"`
	Value     anyJSON   `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (h *Handler) serveKV(w http.ResponseWriter, r *http.Request) {
	snaps := h.kv.Snapshot()
	out := make([]kvEntry, 0, len(snaps))
	for _, s := range snaps {
		e := kvEntry{Key: s.Key, Value: renderAny(s.Value)}
		if s.ExpiresAt != nil {
			e.ExpiresAt = *s.ExpiresAt
		}
		out = append(out, e)
	}
	writeJSON(w, out)
}

type queueMessage struct {
	ID         string    `json:"id"`
	Payload    anyJSON   `json:"payload"`
	Priority   uint8     `json:"priority"`
	State      string    `json:"state"`
	Attempts   uint32    `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type queueView struct {
	Name      string         `json:"name"`
	Pending   []queueMessage `json:"pending"`
	InFlight  []queueMessage `json:"in_flight"`
	Scheduled []queueMessage `json:"scheduled"`
}

type dlqEntry struct {
	MessageID     string  `json:"message_id"`
	Payload       anyJSON `json:"payload"`
	Attempts      uint32  `json:"attempts"`
	FailureReason string  `json:"failure_reason"`
}

type dlqView struct {
	Name    string     `json:"name"`
	Entries []dlqEntry `json:"entries"`
}

func renderMessages(msgs []queue.Message) []queueMessage {
	out := make([]queueMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, queueMessage{
			ID: m.ID.String(), Payload: renderAny(m.Payload), Priority: m.Priority,
			State: m.State.String(), Attempts: m.Attempts, EnqueuedAt: m.EnqueuedAt,
		})
	}
	return out
}

func (h *Handler) serveQueue(w http.ResponseWriter, r *http.Request) {
	active, dlqs := h.queue.Snapshot()

	queues := make([]queueView, 0, len(active))
	for _, q := range active {
		queues = append(queues, queueView{
			Name: q.Name, Pending: renderMessages(q.Pending),
			InFlight: renderMessages(q.InFlight), Scheduled: renderMessages(q.Scheduled),
		})
	}
	dlqOut := make([]dlqView, 0, len(dlqs))
	for _, d := range dlqs {
		entries := make([]dlqEntry, 0, len(d.Entries))
		for _, e := range d.Entries {
			entries = append(entries, dlqEntry{
				MessageID: e.MessageID.String(), Payload: renderAny(e.Payload),
				Attempts: e.Attempts, FailureReason: e.FailureReason,
			})
		}
		dlqOut = append(dlqOut, dlqView{Name: d.Name, Entries: entries})
	}

	writeJSON(w, struct {
		Queues []queueView `json:"queues"`
		DLQs   []dlqView   `json:"dead_letters"`
	}{queues, dlqOut})
}

type topicView struct {
	FullPath      string   `json:"full_path"`
	Subscribers   int      `json:"subscribers"`
	RetainedValue *anyJSON `json:"retained_value,omitempty"`
}

type wildcardView struct {
	Pattern  string `json:"pattern"`
	ConnID   uint64 `json:"conn_id"`
	MultiLvl bool   `json:"multi_level"`
}

func (h *Handler) servePubSub(w http.ResponseWriter, r *http.Request) {
	topics, wildcards := h.pubsub.Snapshot()

	topicOut := make([]topicView, 0, len(topics))
	for _, t := range topics {
		v := topicView{FullPath: t.FullPath, Subscribers: t.Subscribers}
		if t.RetainedValue != nil {
			rv := renderAny(*t.RetainedValue)
			v.RetainedValue = &rv
		}
		topicOut = append(topicOut, v)
	}
	wildcardOut := make([]wildcardView, 0, len(wildcards))
	for _, wc := range wildcards {
		wildcardOut = append(wildcardOut, wildcardView{
			Pattern: wc.Pattern, ConnID: uint64(wc.ConnID), MultiLvl: wc.MultiLvl,
		})
	}

	writeJSON(w, struct {
		Topics    []topicView    `json:"topics"`
		Wildcards []wildcardView `json:"wildcards"`
	}{topicOut, wildcardOut})
}

type streamRecordView struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Payload   anyJSON   `json:"payload"`
}

type partitionView struct {
	Partition uint32             `json:"partition"`
	Records   []streamRecordView `json:"records"`
}

type groupView struct {
	Name             string           `json:"name"`
	Generation       uint64           `json:"generation"`
	Members          []uint64         `json:"members"`
	CommittedOffsets map[uint32]uint64 `json:"committed_offsets"`
}

type streamTopicView struct {
	Name       string          `json:"name"`
	Partitions []partitionView `json:"partitions"`
	Groups     []groupView     `json:"groups"`
}

func (h *Handler) serveStream(w http.ResponseWriter, r *http.Request) {
	topics := h.stream.Snapshot()
	out := make([]streamTopicView, 0, len(topics))
	for _, t := range topics {
		parts := make([]partitionView, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			recs := make([]streamRecordView, 0, len(p.Records))
			for _, r := range p.Records {
				recs = append(recs, streamRecordView{Seq: r.Seq, Timestamp: r.Timestamp, Payload: renderAny(r.Payload)})
			}
			parts = append(parts, partitionView{Partition: p.Partition, Records: recs})
		}
		groups := make([]groupView, 0, len(t.Groups))
		for _, g := range t.Groups {
			members := make([]uint64, 0, len(g.Members))
			for _, m := range g.Members {
				members = append(members, uint64(m))
			}
			groups = append(groups, groupView{
				Name: g.Name, Generation: g.Generation, Members: members, CommittedOffsets: g.CommittedOffsets,
			})
		}
		out = append(out, streamTopicView{Name: t.Name, Partitions: parts, Groups: groups})
	}
	writeJSON(w, out)
}
