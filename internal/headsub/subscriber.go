package headsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"defidata/internal/jsonrpc"
)

// Subscriber maintains a newHeads subscription over a single WebSocket
// connection and exposes the latest observed block number. Handlers embed
// that number in cache keys so fresh blocks naturally roll keys over.
type Subscriber struct {
	name              string
	wsURL             string
	reconnectInterval time.Duration
	messageTimeout    time.Duration
	logger            zerolog.Logger

	latestBlock uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config for creating a new Subscriber
type Config struct {
	Name              string
	WSURL             string
	ReconnectInterval time.Duration
	MessageTimeout    time.Duration
	Logger            zerolog.Logger
}

// New creates a head subscriber; call Start to begin receiving
func New(cfg Config) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	reconnect := cfg.ReconnectInterval
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	msgTimeout := cfg.MessageTimeout
	if msgTimeout <= 0 {
		msgTimeout = 60 * time.Second
	}
	return &Subscriber{
		name:              cfg.Name,
		wsURL:             cfg.WSURL,
		reconnectInterval: reconnect,
		messageTimeout:    msgTimeout,
		logger:            cfg.Logger.With().Str("component", "headsub").Str("network", cfg.Name).Logger(),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start launches the connect/read loop
func (s *Subscriber) Start() {
	s.wg.Add(1)
	go s.runLoop()
}

// Close stops the subscriber and waits for the read loop to exit
func (s *Subscriber) Close() {
	s.cancel()
	s.wg.Wait()
}

// LatestBlock returns the highest block number seen so far, 0 if none
func (s *Subscriber) LatestBlock() uint64 {
	return atomic.LoadUint64(&s.latestBlock)
}

func (s *Subscriber) runLoop() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		if err := s.runOnce(); err != nil {
			s.logger.Warn().Err(err).Msg("head subscription dropped")
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(s.reconnectInterval):
		}
	}
}

// runOnce dials, subscribes, and reads until the connection breaks
func (s *Subscriber) runOnce() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(s.ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect WebSocket: %w", err)
	}
	defer conn.Close()

	// Drop the connection when Close is called mid-read
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	subReq, err := jsonrpc.NewRequest("eth_subscribe", []interface{}{"newHeads"}, jsonrpc.NewIDInt(1))
	if err != nil {
		return err
	}
	if err := conn.WriteJSON(subReq); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.logger.Info().Msg("head subscription established")

	for {
		conn.SetReadDeadline(time.Now().Add(s.messageTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		s.handleMessage(data)
	}
}

// headNotification is the shape of an eth_subscription newHeads event
type headNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Number string `json:"number"`
		} `json:"result"`
	} `json:"params"`
}

func (s *Subscriber) handleMessage(data []byte) {
	var note headNotification
	if err := json.Unmarshal(data, &note); err != nil {
		return
	}
	if note.Method != "eth_subscription" || note.Params.Result.Number == "" {
		// Subscription confirmations and unrelated frames are ignored
		return
	}

	block, err := parseHexUint(note.Params.Result.Number)
	if err != nil {
		s.logger.Debug().Err(err).Str("number", note.Params.Result.Number).Msg("bad head number")
		return
	}

	// Reorgs can deliver lower numbers; only move forward
	for {
		current := atomic.LoadUint64(&s.latestBlock)
		if block <= current {
			return
		}
		if atomic.CompareAndSwapUint64(&s.latestBlock, current, block) {
			s.logger.Debug().Uint64("block", block).Msg("new head")
			return
		}
	}
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex number")
	}
	return strconv.ParseUint(s, 16, 64)
}
