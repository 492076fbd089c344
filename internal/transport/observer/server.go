package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"settlecraft.ai/internal/observerproto"
	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/settlement"
)

// Source is the read side of a settlement host.
type Source interface {
	Stations() []settlement.StationView
	Now() uint64
}

type session struct {
	id       string
	pos      geom.Vec3i
	stations bool
	out      chan []byte
}

// Server fans builder notices out to websocket observers. Delivery never
// blocks the caller; a slow observer loses messages.
type Server struct {
	src       Source
	dimension string
	log       *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewServer(src Source, dimension string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		src:       src,
		dimension: dimension,
		log:       logger,
		sessions:  map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected observers.
func (s *Server) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Dropped counts messages discarded because an observer fell behind.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// NotifyNearby implements executor.Notifier.
func (s *Server) NotifyNearby(origin geom.Vec3i, radius int, msg string) {
	b, err := json.Marshal(observerproto.NoticeMsg{
		Type:            observerproto.TypeNotice,
		ProtocolVersion: observerproto.Version,
		Origin:          [3]int{origin.X, origin.Y, origin.Z},
		Text:            msg,
	})
	if err != nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ss := range s.sessions {
		if ss.pos.DistSq(origin) <= radius*radius {
			s.send(ss, b)
		}
	}
}

// PublishStations sends the current station list to observers that asked
// for it.
func (s *Server) PublishStations(tick uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b []byte
	for _, ss := range s.sessions {
		if !ss.stations {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(observerproto.StationsMsg{
				Type:            observerproto.TypeStations,
				ProtocolVersion: observerproto.Version,
				Tick:            tick,
				Stations:        stationInfos(s.src.Stations()),
			})
			if err != nil {
				return
			}
		}
		s.send(ss, b)
	}
}

func (s *Server) send(ss *session, b []byte) {
	select {
	case ss.out <- b:
	default:
		s.dropped.Add(1)
	}
}

func stationInfos(views []settlement.StationView) []observerproto.StationInfo {
	out := make([]observerproto.StationInfo, 0, len(views))
	for _, v := range views {
		out = append(out, observerproto.StationInfo{
			Pos:       [3]int{v.Pos.X, v.Pos.Y, v.Pos.Z},
			Blueprint: v.Blueprint,
			AgentID:   v.AgentID,
			Built:     v.Built,
			Cursor:    v.Cursor,
			Total:     v.Total,
			Active:    v.Active,
		})
	}
	return out
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Dimension:       s.dimension,
			Tick:            s.src.Now(),
			Stations:        stationInfos(s.src.Stations()),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		sub, ok, err := readSubscribe(conn)
		if err != nil {
			return
		}
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ss := &session{
			id:       fmt.Sprintf("O%d", s.nextID.Add(1)),
			pos:      geom.Vec3i{X: sub.Pos[0], Y: sub.Pos[1], Z: sub.Pos[2]},
			stations: sub.Stations,
			out:      make(chan []byte, 256),
		}
		s.mu.Lock()
		s.sessions[ss.id] = ss
		s.mu.Unlock()
		s.log.Debug("observer joined", zap.String("session", ss.id), zap.Stringer("pos", ss.pos))
		defer func() {
			s.mu.Lock()
			delete(s.sessions, ss.id)
			s.mu.Unlock()
			s.log.Debug("observer left", zap.String("session", ss.id))
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-ss.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: SUBSCRIBE updates move the observer.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			sub, ok, err := readSubscribe(conn)
			if err != nil {
				break
			}
			if !ok {
				continue
			}
			s.mu.Lock()
			ss.pos = geom.Vec3i{X: sub.Pos[0], Y: sub.Pos[1], Z: sub.Pos[2]}
			ss.stations = sub.Stations
			s.mu.Unlock()
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// readSubscribe reads one message and reports whether it is a valid
// SUBSCRIBE.
func readSubscribe(conn *websocket.Conn) (observerproto.SubscribeMsg, bool, error) {
	var sub observerproto.SubscribeMsg
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return sub, false, err
	}
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false, nil
	}
	return sub, sub.Type == observerproto.TypeSubscribe && sub.ProtocolVersion == observerproto.Version, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
