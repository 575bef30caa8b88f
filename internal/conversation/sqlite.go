package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memvra/companion/internal/db"
)

// Fixed width so the text column sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultWindow is how many recent messages a subscriber receives.
const DefaultWindow = 50

// SQLiteStore implements Store on the local database.
type SQLiteStore struct {
	conn   *sql.DB
	now    func() time.Time
	window int
	log    zerolog.Logger

	mu     sync.Mutex
	subs   map[string]map[int]*subscriber
	nextID int
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLiteStore.
func NewSQLiteStore(database *db.DB, log zerolog.Logger) *SQLiteStore {
	return &SQLiteStore{
		conn:   database.Conn(),
		now:    time.Now,
		window: DefaultWindow,
		log:    log,
		subs:   make(map[string]map[int]*subscriber),
	}
}

// WithClock overrides the clock stamped on appended messages.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Ensure implements Store.
func (s *SQLiteStore) Ensure(ctx context.Context, a, b string) (string, error) {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return "", fmt.Errorf("%w: both participants are required", ErrInvalidInput)
	}
	id := ID(a, b)
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO conversations (id, participant_a, participant_b) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, first, second,
	)
	if err != nil {
		return "", fmt.Errorf("conversation: ensure %s: %w", id, err)
	}
	return id, nil
}

// Append implements Store. A zero CreatedAt is stamped with the current time.
func (s *SQLiteStore) Append(ctx context.Context, id string, msg Message) (string, error) {
	if id == "" || msg.SenderID == "" {
		return "", fmt.Errorf("%w: conversation and sender are required", ErrInvalidInput)
	}
	if msg.Type == "" {
		msg.Type = TypeText
	}
	if msg.Type == TypeText && strings.TrimSpace(msg.Content) == "" {
		return "", fmt.Errorf("%w: empty text message", ErrInvalidInput)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	var exists int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	if err != nil {
		return "", fmt.Errorf("conversation: lookup %s: %w", id, err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, content, type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, id, msg.SenderID, msg.Content, string(msg.Type), msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("conversation: append to %s: %w", id, err)
	}

	s.notify(id)
	return msg.ID, nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, id string, limit int, order Order) ([]Message, error) {
	if limit <= 0 {
		return []Message{}, nil
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT seq, id, conversation_id, sender_id, content, type, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, seq DESC LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: recent %s: %w", id, err)
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var typ, created string
		if err := rows.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Content, &typ, &created); err != nil {
			return nil, err
		}
		m.Type = MessageType(typ)
		m.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if order == Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// ConversationsFor implements Store.
func (s *SQLiteStore) ConversationsFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM conversations WHERE participant_a = ? OR participant_b = ? ORDER BY id`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation: list for %s: %w", userID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// subscriber runs one callback goroutine. notify holds at most one pending
// wake-up, so bursts of appends collapse into a single delivery.
type subscriber struct {
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (sub *subscriber) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) stop() {
	sub.once.Do(func() { close(sub.done) })
}

// Subscribe implements Store.
func (s *SQLiteStore) Subscribe(id string, fn func([]Message)) func() {
	sub := &subscriber{notify: make(chan struct{}, 1), done: make(chan struct{})}

	s.mu.Lock()
	n := s.nextID
	s.nextID++
	if s.subs[id] == nil {
		s.subs[id] = make(map[int]*subscriber)
	}
	s.subs[id][n] = sub
	s.mu.Unlock()

	sub.wake()
	go s.deliver(id, sub, fn)

	return func() {
		s.mu.Lock()
		if m := s.subs[id]; m != nil {
			delete(m, n)
			if len(m) == 0 {
				delete(s.subs, id)
			}
		}
		s.mu.Unlock()
		sub.stop()
	}
}

func (s *SQLiteStore) deliver(id string, sub *subscriber, fn func([]Message)) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.notify:
		}
		msgs, err := s.Recent(context.Background(), id, s.window, Ascending)
		if err != nil {
			s.log.Warn().Err(err).Str("conversation_id", id).Msg("conversation: subscription read")
			continue
		}
		select {
		case <-sub.done:
			return
		default:
		}
		fn(msgs)
	}
}

func (s *SQLiteStore) notify(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs[id] {
		sub.wake()
	}
}
