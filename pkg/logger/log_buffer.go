package logger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

func computeSlice(startID int, endID int, limit int, totalEntries int, capacity int) (int, int) {
	if endID < -1 || startID < -1 || limit < -1 {
		return 0, 0
	}

	if endID == -1 {
		endID = totalEntries
	}
	if limit == -1 {
		limit = capacity
	}

	selectTail := startID == -1

	startID = max(startID, max(0, totalEntries-capacity))
	endID = min(endID, totalEntries)
	if startID >= endID {
		return 0, 0
	}
	limit = min(limit, endID-startID)

	// Newest entries win when the limit applies and no start was given.
	if selectTail {
		startID = endID - limit
	}

	return startID % capacity, limit
}

func messageWithFields(entry *logrus.Entry) string {
	if len(entry.Data) == 0 {
		return entry.Message
	}

	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, fmt.Sprintf("%s=%q", key, fmt.Sprintf("%v", entry.Data[key])))
	}

	return entry.Message + "  " + strings.Join(fields, " ")
}

// Entry is one captured log line.
type Entry struct {
	ID      int       `json:"id"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
}

// LogBuffer is a fixed-capacity ring of recent log entries. It is installed as a logrus hook so
// the console can show what the client has been doing.
type LogBuffer struct {
	lock         sync.RWMutex
	buffer       []*Entry
	totalEntries int
}

// NewLogBuffer creates a new LogBuffer.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{
		buffer: make([]*Entry, capacity),
	}
}

func (lb *LogBuffer) write(entry *Entry) {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	entry.ID = lb.totalEntries
	lb.buffer[lb.totalEntries%len(lb.buffer)] = entry
	lb.totalEntries++
}

// Entries retrieves a snapshot of the newest logged entries.
//
//   - startID: Beginning of the range of IDs to include (inclusive).
//   - endID: End of the range of IDs to include (exclusive).
//   - limit: Maximum number of entries to return.
//
// A value of -1 lifts the corresponding bound.
func (lb *LogBuffer) Entries(startID int, endID int, limit int) []*Entry {
	lb.lock.RLock()
	defer lb.lock.RUnlock()

	startIndex, entryCount :=
		computeSlice(startID, endID, limit, lb.totalEntries, len(lb.buffer))
	if entryCount <= 0 {
		return nil
	}

	entries := make([]*Entry, entryCount)
	copiedCount := copy(entries, lb.buffer[startIndex:])
	copy(entries[copiedCount:], lb.buffer)

	return entries
}

// Tail returns up to n of the newest entries, oldest first.
func (lb *LogBuffer) Tail(n int) []*Entry {
	return lb.Entries(-1, -1, n)
}

// Len returns the total number of entries written to the buffer.
func (lb *LogBuffer) Len() int {
	lb.lock.RLock()
	defer lb.lock.RUnlock()
	return lb.totalEntries
}

// Fire implements the logrus.Hook interface.
func (lb *LogBuffer) Fire(entry *logrus.Entry) error {
	lb.write(&Entry{
		Message: messageWithFields(entry),
		Time:    entry.Time,
		Level:   entry.Level.String(),
	})
	return nil
}

// Levels implements the logrus.Hook interface.
func (lb *LogBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}
