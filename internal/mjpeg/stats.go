package mjpeg

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// StreamStats tracks process-wide streaming statistics with thread-safe
// operations. Counters are cumulative; LogStats reports the delta since
// its previous call so a periodic logger can run alongside the API
// handlers that read Snapshot.
type StreamStats struct {
	mu          sync.Mutex
	sessions    int64
	frames      int64
	bytes       int64
	bursts      int64
	emptyBursts int64
	overflows   int64
	active      bool

	lastLog     StatsSnapshot
	lastLogTime time.Time
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	Sessions    int64 `json:"sessions"`
	Active      bool  `json:"active_session"`
	Frames      int64 `json:"frames"`
	Bytes       int64 `json:"bytes"`
	Bursts      int64 `json:"bursts"`
	EmptyBursts int64 `json:"empty_bursts"`
	Overflows   int64 `json:"overflows"`
}

// NewStreamStats creates a new StreamStats instance.
func NewStreamStats() *StreamStats {
	return &StreamStats{lastLogTime: time.Now()}
}

// SessionStarted marks a streaming session active.
func (st *StreamStats) SessionStarted() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions++
	st.active = true
}

// SessionEnded marks the streaming session inactive.
func (st *StreamStats) SessionEnded() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.active = false
}

// AddBurst records one completed burst and the bytes it consumed.
func (st *StreamStats) AddBurst(bytes int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bursts++
	st.bytes += int64(bytes)
}

// AddFrames increments the delivered frame count.
func (st *StreamStats) AddFrames(count int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frames += count
}

// AddOverflows increments the dropped-frame count.
func (st *StreamStats) AddOverflows(count int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.overflows += count
}

// AddEmptyBurst records a burst that ended without delivering any bytes.
func (st *StreamStats) AddEmptyBurst() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.emptyBursts++
}

// Snapshot returns a copy of the current counters.
func (st *StreamStats) Snapshot() StatsSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshotLocked()
}

func (st *StreamStats) snapshotLocked() StatsSnapshot {
	return StatsSnapshot{
		Sessions:    st.sessions,
		Active:      st.active,
		Frames:      st.frames,
		Bytes:       st.bytes,
		Bursts:      st.bursts,
		EmptyBursts: st.emptyBursts,
		Overflows:   st.overflows,
	}
}

// LogStats logs throughput since the previous call, if anything moved.
func (st *StreamStats) LogStats() {
	st.mu.Lock()
	cur := st.snapshotLocked()
	prev := st.lastLog
	now := time.Now()
	duration := now.Sub(st.lastLogTime)
	st.lastLog = cur
	st.lastLogTime = now
	st.mu.Unlock()

	frames := cur.Frames - prev.Frames
	bytes := cur.Bytes - prev.Bytes
	bursts := cur.Bursts - prev.Bursts
	if bursts == 0 && frames == 0 {
		return
	}

	framesPerSec := float64(frames) / duration.Seconds()
	kbPerSec := float64(bytes) / duration.Seconds() / 1024

	logMsg := fmt.Sprintf("Stream stats (/sec): %.1f frames, %.1f KB, %.1f bursts",
		framesPerSec, kbPerSec, float64(bursts)/duration.Seconds())
	if dropped := cur.Overflows - prev.Overflows; dropped > 0 {
		logMsg += fmt.Sprintf(", %d dropped on overflow", dropped)
	}

	log.Print(logMsg)
}

// FormatWithCommas formats a number with thousands separators.
func FormatWithCommas(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	result := ""
	for i, char := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(char)
	}
	return result
}
