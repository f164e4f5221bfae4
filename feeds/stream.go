package feeds

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/trendpilot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FEATURE STREAM - websocket source of per-bar feature records
// ═══════════════════════════════════════════════════════════════════════════════
//
// The upstream indicator service pushes one JSON feature record per
// instrument/timeframe at bar close. The stream caches the latest record
// per key; the core reads the cache on its own schedule. Connection drops
// reconnect with a fixed delay, and the cache keeps serving the last bar in
// the meantime (the staleness guard downstream rejects it if it is too old).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
	readTimeout    = 90 * time.Second
)

// Stream is a websocket-backed Provider.
type Stream struct {
	mu sync.RWMutex

	url       string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	latest map[string]*types.FeatureRecord
}

func NewStream(url string) *Stream {
	return &Stream{
		url:    url,
		stopCh: make(chan struct{}),
		latest: make(map[string]*types.FeatureRecord),
	}
}

// Start connects and begins caching records.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Str("url", s.url).Msg("📡 Feature stream started")
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)

	if s.conn != nil {
		s.conn.Close()
	}
	log.Info().Msg("Feature stream stopped")
}

// Latest returns the cached record for the key.
func (s *Stream) Latest(_ context.Context, instrument, timeframe string) (*types.FeatureRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.latest[key(instrument, timeframe)]
	if !ok {
		return nil, ErrNoRecord
	}
	return rec, nil
}

// Connected reports link state for health display.
func (s *Stream) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Stream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Feature stream connection failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		s.readLoop()

		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
		time.Sleep(reconnectDelay)
	}
}

func (s *Stream) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Msg("✅ Feature stream connected")

	go s.pingLoop(conn)
	return nil
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Feature stream read error, reconnecting")
			conn.Close()
			return
		}

		s.handleMessage(msg)
	}
}

func (s *Stream) handleMessage(msg []byte) {
	var rec types.FeatureRecord
	if err := json.Unmarshal(msg, &rec); err != nil {
		log.Warn().Err(err).Msg("Undecodable feature message dropped")
		return
	}
	if err := rec.Valid(); err != nil {
		log.Warn().Err(err).
			Str("instrument", rec.Instrument).
			Str("timeframe", rec.Timeframe).
			Msg("Malformed feature record dropped")
		return
	}

	s.mu.Lock()
	prev := s.latest[key(rec.Instrument, rec.Timeframe)]
	// Out-of-order delivery keeps the newer bar.
	if prev == nil || rec.BarTime.After(prev.BarTime) {
		s.latest[key(rec.Instrument, rec.Timeframe)] = &rec
	}
	s.mu.Unlock()
}
