package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/joyautomation/mantle/pubsub"
)

// graphql-transport-ws protocol constants.
const (
	wsSubprotocol = "graphql-transport-ws"

	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgPing           = "ping"
	msgPong           = "pong"
	msgSubscribe      = "subscribe"
	msgNext           = "next"
	msgError          = "error"
	msgComplete       = "complete"
)

const (
	wsWriteTimeout     = 10 * time.Second
	wsInitTimeout      = 10 * time.Second
	wsMaxMessageSize   = 1 << 20
	subscriptionBuffer = 64
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsSession serves one graphql-transport-ws connection. The read loop
// and subscription goroutines both send frames, so writes are
// serialized through a mutex.
type wsSession struct {
	conn     *websocket.Conn
	executor *Executor
	broker   *pubsub.Broker
	log      *slog.Logger

	mu    sync.Mutex
	acked bool
	subs  map[string]chan struct{}
	wg    sync.WaitGroup
}

func newWSSession(conn *websocket.Conn, executor *Executor, broker *pubsub.Broker, log *slog.Logger) *wsSession {
	return &wsSession{
		conn:     conn,
		executor: executor,
		broker:   broker,
		log:      log,
		subs:     make(map[string]chan struct{}),
	}
}

// run drives the connection until the client disconnects, a protocol
// violation occurs, or ctx is canceled.
func (s *wsSession) run(ctx context.Context) {
	defer s.shutdown()

	go func() {
		<-ctx.Done()
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(wsMaxMessageSize)
	// The client must initialize promptly or the connection is dropped.
	_ = s.conn.SetReadDeadline(time.Now().Add(wsInitTimeout))

	for {
		var msg wsMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case msgConnectionInit:
			if s.acked {
				s.closeWith(4429, "too many initialisation requests")
				return
			}
			s.acked = true
			_ = s.conn.SetReadDeadline(time.Time{})
			if err := s.write(wsMessage{Type: msgConnectionAck}); err != nil {
				return
			}

		case msgPing:
			if err := s.write(wsMessage{Type: msgPong}); err != nil {
				return
			}

		case msgPong:

		case msgSubscribe:
			if !s.acked {
				s.closeWith(4401, "unauthorized")
				return
			}
			if msg.ID == "" {
				s.closeWith(4400, "subscribe requires an id")
				return
			}
			if s.active(msg.ID) {
				s.closeWith(4409, fmt.Sprintf("subscriber for %s already exists", msg.ID))
				return
			}
			s.subscribe(ctx, msg)

		case msgComplete:
			s.cancel(msg.ID)

		default:
			s.closeWith(4400, fmt.Sprintf("unknown message type %q", msg.Type))
			return
		}
	}
}

func (s *wsSession) subscribe(ctx context.Context, msg wsMessage) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(msg.Payload))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		s.closeWith(4400, "malformed subscribe payload")
		return
	}

	op, vars, errs := s.executor.prepare(req)
	if len(errs) > 0 {
		_ = s.writeError(msg.ID, errs)
		return
	}

	// Queries and mutations over the websocket yield a single next
	// followed by complete.
	if op.Operation != ast.Subscription {
		resp := s.executor.Execute(ctx, req)
		if resp.Data == nil {
			_ = s.writeError(msg.ID, resp.Errors)
			return
		}
		if err := s.writeNext(msg.ID, resp); err != nil {
			return
		}
		_ = s.write(wsMessage{ID: msg.ID, Type: msgComplete})
		return
	}

	fields := collectFields(op.SelectionSet, vars, "Subscription")
	if len(fields) != 1 {
		_ = s.writeError(msg.ID, gqlerror.List{gqlerror.Errorf("subscriptions must select exactly one field")})
		return
	}
	field := fields[0]

	topic, convert, err := s.executor.resolver.resolveSubscription(field.Name)
	if err != nil {
		_ = s.writeError(msg.ID, gqlerror.List{wrapError(err, field.Name)})
		return
	}

	sub, err := s.broker.Subscribe(topic, subscriptionBuffer)
	if err != nil {
		_ = s.writeError(msg.ID, gqlerror.List{wrapError(err, field.Name)})
		return
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.subs[msg.ID] = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Unsubscribe()
		defer s.drop(msg.ID, done)

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case event, ok := <-sub.C():
				if !ok {
					_ = s.write(wsMessage{ID: msg.ID, Type: msgComplete})
					return
				}
				model, ok := convert(event)
				if !ok {
					continue
				}
				if err := s.writeEvent(msg.ID, field, model, vars); err != nil {
					return
				}
			}
		}
	}()
}

func (s *wsSession) writeEvent(id string, field *ast.Field, model any, vars map[string]any) error {
	untyped, err := toUntyped(model)
	if err != nil {
		s.log.Warn("dropping subscription event", "field", field.Name, "error", err)
		return nil
	}

	payload := newOrderedMap(1)
	payload.set(fieldAlias(field), s.executor.project(untyped, field.SelectionSet, fieldTypeName(field), vars))
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("dropping subscription event", "field", field.Name, "error", err)
		return nil
	}
	return s.writeNext(id, &Response{Data: data})
}

func (s *wsSession) writeNext(id string, resp *Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.write(wsMessage{ID: id, Type: msgNext, Payload: raw})
}

func (s *wsSession) writeError(id string, errs gqlerror.List) error {
	raw, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	return s.write(wsMessage{ID: id, Type: msgError, Payload: raw})
}

func (s *wsSession) write(msg wsMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsSession) active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.subs[id]
	return ok
}

// cancel stops a subscription on a client complete message.
func (s *wsSession) cancel(id string) {
	s.mu.Lock()
	done, ok := s.subs[id]
	if ok {
		delete(s.subs, id)
	}
	s.mu.Unlock()
	if ok {
		close(done)
	}
}

// drop releases an id after its goroutine exits, unless the id was
// already reassigned.
func (s *wsSession) drop(id string, done chan struct{}) {
	s.mu.Lock()
	if current, ok := s.subs[id]; ok && current == done {
		delete(s.subs, id)
	}
	s.mu.Unlock()
}

func (s *wsSession) closeWith(code int, reason string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = s.conn.Close()
}

func (s *wsSession) shutdown() {
	s.mu.Lock()
	pending := make([]chan struct{}, 0, len(s.subs))
	for id, done := range s.subs {
		delete(s.subs, id)
		pending = append(pending, done)
	}
	s.mu.Unlock()

	for _, done := range pending {
		close(done)
	}
	s.wg.Wait()
	_ = s.conn.Close()
}
