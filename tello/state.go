package tello

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// State is one parsed state frame. Values the drone sent as numbers are
// float64, anything else stays a string.
type State map[string]interface{}

// Float returns the numeric value for key, if present and numeric.
func (s State) Float(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// parseState splits a "key:value;key:value;..." frame, numeric-parsing
// each value with string fallback.
func parseState(frame string) State {
	st := State{}
	for _, item := range strings.Split(strings.TrimSpace(frame), ";") {
		key, value, ok := strings.Cut(item, ":")
		if !ok || key == "" {
			continue
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st[key] = f
		} else {
			st[key] = value
		}
	}
	return st
}

func (l *Link) startStateListener() error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: l.statePort})
	if err != nil {
		return errors.Wrap(err, "tello: open state channel")
	}
	l.mu.Lock()
	l.stateConn = conn
	l.mu.Unlock()

	l.wg.Add(1)
	go l.stateListener(conn)
	log.Info("state listener started")
	return nil
}

// stateListener replaces the whole state map on every received frame.
func (l *Link) stateListener(conn *net.UDPConn) {
	defer l.wg.Done()
	buf := make([]byte, 1024)
	for !l.abort.Load() {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if !l.abort.Load() {
				log.WithField("err", err).Debug("state listener stopped")
			}
			return
		}
		st := parseState(string(buf[:n]))
		l.stateMu.Lock()
		l.state = st
		l.stateMu.Unlock()
	}
}

// State returns a copy of the latest state frame.
func (l *Link) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	st := make(State, len(l.state))
	for k, v := range l.state {
		st[k] = v
	}
	return st
}

// Height returns the drone's reported height in cm, zero when unknown.
func (l *Link) Height() float64 {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	h, _ := l.state.Float("h")
	return h
}
