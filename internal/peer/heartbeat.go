package peer

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ctlFrame is the control-channel wire format, msgpack for compactness since
// these frames ride the media path every few seconds.
type ctlFrame struct {
	Kind string `msgpack:"kind"`
	Seq  uint64 `msgpack:"seq"`
	Sent int64  `msgpack:"sent"` // sender's unix nanos, echoed in pongs
}

const (
	ctlPing = "ping"
	ctlPong = "pong"
)

// scheduleHeartbeatLocked arms the next ping. The chain is generation-guarded
// like every other timer, so degradation or close stops it.
func (l *Link) scheduleHeartbeatLocked() {
	g := l.gen
	l.timers = append(l.timers,
		l.cfg.Scheduler.AfterFunc(l.cfg.Policy.HeartbeatInterval, func() { l.heartbeatTick(g) }))
}

func (l *Link) heartbeatTick(g uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g || l.state != StateConnected {
		return
	}

	if l.hbMisses >= l.cfg.Policy.HeartbeatMisses {
		// ICE still claims connected but the peer stopped answering;
		// treat it as a dead transport.
		l.enterDegradedLocked("heartbeat lost")
		return
	}

	l.hbSeq++
	l.hbMisses++
	frame, err := msgpack.Marshal(ctlFrame{Kind: ctlPing, Seq: l.hbSeq, Sent: time.Now().UnixNano()})
	if err == nil {
		if err := l.tr.SendControl(frame); err != nil {
			l.log.Debug("heartbeat send failed", "error", err)
		}
	}
	l.scheduleHeartbeatLocked()
}

func (l *Link) onControl(data []byte) {
	var frame ctlFrame
	if err := msgpack.Unmarshal(data, &frame); err != nil {
		l.log.Debug("dropping malformed control frame", "error", err)
		return
	}

	switch frame.Kind {
	case ctlPing:
		reply, err := msgpack.Marshal(ctlFrame{Kind: ctlPong, Seq: frame.Seq, Sent: frame.Sent})
		if err != nil {
			return
		}
		l.mu.Lock()
		tr := l.tr
		l.mu.Unlock()
		if tr != nil {
			_ = tr.SendControl(reply)
		}
	case ctlPong:
		l.mu.Lock()
		l.hbMisses = 0
		if frame.Sent > 0 {
			l.lastRTT = time.Duration(time.Now().UnixNano() - frame.Sent)
		}
		l.mu.Unlock()
	}
}
