package app

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/FireBladesAdi/dental-form-pro/internal/docstore"
	"github.com/FireBladesAdi/dental-form-pro/internal/intake"
	"github.com/FireBladesAdi/dental-form-pro/internal/rbac"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = feedPongWait * 9 / 10
)

// allowOrigin applies the CORS origin to websocket handshakes. Requests
// without an Origin header come from non-browser clients.
func (s *HTTPServer) allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" {
		return true
	}
	return strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(s.corsOrigin, "/"))
}

// FeedMessage is one full snapshot pushed to a feed client.
type FeedMessage struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// feedActions is the permission needed to open each topic.
var feedActions = map[string]rbac.Action{
	"config":      rbac.ActionViewClinic,
	"templates":   rbac.ActionReadTemplates,
	"sessions":    rbac.ActionManageSessions,
	"submissions": rbac.ActionReadSubmissions,
}

// latest holds the newest snapshot for the writer. Older snapshots that were
// never sent are dropped.
type latest struct {
	mu     sync.Mutex
	value  any
	notify chan struct{}
}

func newLatest() *latest {
	return &latest{notify: make(chan struct{}, 1)}
}

func (l *latest) set(v any) {
	l.mu.Lock()
	l.value = v
	l.mu.Unlock()
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *latest) get() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// subscribe starts the watch behind topic, feeding snapshots into out.
func (s *Service) subscribe(ctx context.Context, clinic, topic string, out *latest) (docstore.Subscription, error) {
	switch topic {
	case "config":
		return s.engine.Registry.Watch(ctx, clinic, func(res intake.Resolution) {
			out.set(publicClinic(res))
		})
	case "templates":
		return s.engine.Templates.Watch(ctx, clinic, func(templates map[string]intake.FormTemplate) {
			out.set(orEmpty(intake.SortTemplates(templates)))
		})
	case "sessions":
		return s.engine.Sessions.Watch(ctx, clinic, func(sessions []intake.Session) {
			out.set(orEmpty(sessions))
		})
	case "submissions":
		return s.engine.Ledger.Watch(ctx, clinic, func(subs []intake.Submission) {
			out.set(orEmpty(subs))
		})
	}
	return nil, errUnknownTopic
}

var errUnknownTopic = domainError(http.StatusNotFound, "UNKNOWN_TOPIC", "Unknown feed topic", nil)

func (s *HTTPServer) handleFeed(w http.ResponseWriter, r *http.Request) {
	clinic := chi.URLParam(r, "clinic")
	topic := chi.URLParam(r, "topic")
	action, ok := feedActions[topic]
	if !ok {
		s.fail(w, errUnknownTopic)
		return
	}
	if _, err := intake.NormalizeClinicID(clinic); err != nil {
		s.fail(w, err)
		return
	}
	// The config feed is how a device learns a clinic was claimed, so it must
	// open before the clinic exists.
	if action != rbac.ActionViewClinic {
		if _, err := s.service.AuthorizeAction(r.Context(), clinic, r.URL.Query().Get("passcode"), action); err != nil {
			s.fail(w, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("app: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.service.feeds.FeedOpened(topic)
	defer s.service.feeds.FeedClosed(topic)

	g, ctx := errgroup.WithContext(r.Context())
	snapshots := newLatest()
	sub, err := s.service.subscribe(ctx, clinic, topic, snapshots)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(feedWriteWait))
		return
	}
	defer sub.Close()

	g.Go(func() error { return readPump(conn) })
	g.Go(func() error { return writePump(ctx, conn, topic, snapshots) })
	g.Go(func() error {
		<-ctx.Done()
		// Unblocks the read pump once the writer has stopped.
		_ = conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil && !isClosing(err) {
		log.Printf("app: feed %s/%s ended: %v", clinic, topic, err)
	}
}

// readPump discards client messages and keeps the pong deadline fresh. It
// returns when the client goes away.
func readPump(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, topic string, snapshots *latest) error {
	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-snapshots.notify:
			_ = conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteJSON(FeedMessage{Topic: topic, Data: snapshots.get()}); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(feedWriteWait)); err != nil {
				return err
			}
		}
	}
}

func isClosing(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed)
}
