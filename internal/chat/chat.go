package chat

import (
	"sync"

	"nexus/internal/models"
)

// Log is a fixed-size ring buffer of the most recent messages of one channel.
type Log struct {
	Records    []models.Message
	LastIndex  int
	MaxRecords int
}

func NewLog(maxRecords int) *Log {
	return &Log{
		MaxRecords: maxRecords,
		LastIndex:  -1,
	}
}

// Add appends a record, overwriting the oldest one once the buffer is full.
func (l *Log) Add(record models.Message) {
	switch {
	case len(l.Records) < l.MaxRecords:
		l.Records = append(l.Records, record)
		l.LastIndex++
	default:
		i := (l.LastIndex + 1) % l.MaxRecords
		l.Records[i] = record
		l.LastIndex = i
	}
}

// Last returns up to count most recent records, oldest first.
func (l *Log) Last(count int) []models.Message {
	if count <= 0 || count > len(l.Records) {
		count = len(l.Records)
	}
	result := make([]models.Message, count)
	if count == 0 {
		return result
	}

	head := 0
	if len(l.Records) == l.MaxRecords {
		head = (l.LastIndex + 1) % l.MaxRecords
	}
	startIdx := (head + len(l.Records) - count) % len(l.Records)

	if startIdx+count <= len(l.Records) {
		copy(result, l.Records[startIdx:startIdx+count])
	} else {
		n1 := len(l.Records) - startIdx
		copy(result, l.Records[startIdx:])
		copy(result[n1:], l.Records[:count-n1])
	}
	return result
}

func (l *Log) contains(id string) bool {
	for _, r := range l.Records {
		if r.ID == id {
			return true
		}
	}
	return false
}

// Loader reads persisted history. Implemented by storage.BboltStorage.
type Loader interface {
	ListMessages(channelID string, limit int) ([]models.Message, error)
}

// History keeps a Log per channel, filled from the Loader on first read.
type History struct {
	logs   map[string]*Log
	size   int
	loader Loader

	mux sync.Mutex
}

func NewHistory(size int, loader Loader) *History {
	return &History{
		logs:   make(map[string]*Log),
		size:   size,
		loader: loader,
	}
}

// Recent returns up to limit most recent messages of a channel, oldest first.
func (h *History) Recent(channelID string, limit int) ([]models.Message, error) {
	h.mux.Lock()
	defer h.mux.Unlock()

	l, ok := h.logs[channelID]
	if !ok {
		records, err := h.loader.ListMessages(channelID, h.size)
		if err != nil {
			return nil, err
		}
		l = NewLog(h.size)
		for _, r := range records {
			l.Add(r)
		}
		h.logs[channelID] = l
	}
	return l.Last(limit), nil
}

// Append records a freshly persisted message. Channels not yet loaded are
// skipped; their first read comes from the store and already includes it.
func (h *History) Append(msg models.Message) {
	h.mux.Lock()
	defer h.mux.Unlock()

	l, ok := h.logs[msg.ChannelID]
	if !ok || l.contains(msg.ID) {
		return
	}
	l.Add(msg)
}

func (h *History) Drop(channelID string) {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.logs, channelID)
}
