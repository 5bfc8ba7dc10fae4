// Package mongodb relays call signals through a MongoDB collection. Inserts are
// picked up with a change stream, which needs a replica set.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"skillswap/native/internal/domain"
)

const (
	// DefaultDatabase is used when the connection URI names none.
	DefaultDatabase = "skillswap"

	signalsCollName  = "call_signals"
	countersCollName = "call_signal_counters"
)

// signalDoc is the stored form of a SignalMessage. The message id is the
// document id, so a retransmitted message is stored once.
type signalDoc struct {
	ID        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	CallID    string    `bson:"call_id"`
	SessionID string    `bson:"session_id,omitempty"`
	ReplyTo   string    `bson:"reply_to,omitempty"`
	From      string    `bson:"from_participant_id"`
	To        string    `bson:"to_participant_id"`
	Kind      string    `bson:"signal_type"`
	Data      string    `bson:"signal_data"`
	CreatedAt time.Time `bson:"created_at"`
}

func toDoc(m domain.SignalMessage) signalDoc {
	return signalDoc{
		ID:        m.ID,
		Seq:       m.Seq,
		CallID:    m.CallID,
		SessionID: m.SessionID,
		ReplyTo:   m.ReplyTo,
		From:      m.From,
		To:        m.To,
		Kind:      string(m.Kind),
		Data:      string(m.Payload),
		CreatedAt: m.SentAt,
	}
}

func (d signalDoc) message() domain.SignalMessage {
	return domain.SignalMessage{
		ID:        d.ID,
		Seq:       d.Seq,
		CallID:    d.CallID,
		SessionID: d.SessionID,
		ReplyTo:   d.ReplyTo,
		From:      d.From,
		To:        d.To,
		Kind:      domain.SignalKind(d.Kind),
		Payload:   []byte(d.Data),
		SentAt:    d.CreatedAt.UTC(),
	}
}

// changeEvent is the part of a change stream event this relay reads.
type changeEvent struct {
	OperationType string    `bson:"operationType"`
	FullDocument  signalDoc `bson:"fullDocument"`
}

// Relay implements domain.SignalingChannel and domain.SignalStore.
type Relay struct {
	signals  *mongo.Collection
	counters *mongo.Collection
	logger   zerolog.Logger
}

var (
	_ domain.SignalingChannel = (*Relay)(nil)
	_ domain.SignalStore      = (*Relay)(nil)
)

// Connect dials uri and returns a relay on its database. The caller closes the
// returned client.
func Connect(ctx context.Context, uri string, logger *zerolog.Logger) (*Relay, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := DefaultDatabase
	if cs, err := connstring.ParseAndValidate(uri); err == nil && cs.Database != "" {
		dbName = cs.Database
	}

	r, err := New(ctx, client.Database(dbName), logger)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return r, client, nil
}

// New creates a relay on db and ensures its indexes exist.
func New(ctx context.Context, db *mongo.Database, logger *zerolog.Logger) (*Relay, error) {
	l := log.With().Str("component", "relay").Str("relay", "mongo").Logger()
	if logger != nil {
		l = *logger
	}
	r := &Relay{
		signals:  db.Collection(signalsCollName),
		counters: db.Collection(countersCollName),
		logger:   l,
	}

	_, err := r.signals.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "call_id", Value: 1},
				{Key: "to_participant_id", Value: 1},
				{Key: "seq", Value: 1},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("ensure call_signals indexes: %w", err)
	}
	return r, nil
}

// nextSeq returns the next sequence number of callID.
func (r *Relay) nextSeq(ctx context.Context, callID string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: callID}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return counter.Seq, nil
}

// Send stores msg.
func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	stored, err := r.Append(ctx, msg)
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	r.logger.Debug().
		Str("call_id", stored.CallID).
		Str("kind", string(stored.Kind)).
		Int64("seq", stored.Seq).
		Msg("signal stored")
	return nil
}

// Append inserts msg with the next sequence number of its call. A message id
// that is already stored returns the stored copy.
func (r *Relay) Append(ctx context.Context, msg domain.SignalMessage) (domain.SignalMessage, error) {
	if err := msg.Validate(); err != nil {
		return domain.SignalMessage{}, err
	}
	if msg.ID == "" {
		return domain.SignalMessage{}, errors.New("signal: id is required")
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	var existing signalDoc
	err := r.signals.FindOne(ctx, bson.D{{Key: "_id", Value: msg.ID}}).Decode(&existing)
	if err == nil {
		return existing.message(), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return domain.SignalMessage{}, fmt.Errorf("find signal: %w", err)
	}

	seq, err := r.nextSeq(ctx, msg.CallID)
	if err != nil {
		return domain.SignalMessage{}, err
	}
	msg.Seq = seq

	if _, err := r.signals.InsertOne(ctx, toDoc(msg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if err := r.signals.FindOne(ctx, bson.D{{Key: "_id", Value: msg.ID}}).Decode(&existing); err == nil {
				return existing.message(), nil
			}
		}
		return domain.SignalMessage{}, fmt.Errorf("insert signal: %w", err)
	}
	return msg, nil
}

func listFilter(q domain.SignalQuery) bson.D {
	filter := bson.D{{Key: "call_id", Value: q.CallID}}
	if q.To != "" {
		filter = append(filter, bson.E{Key: "to_participant_id", Value: q.To})
	}
	if q.AfterSeq > 0 {
		filter = append(filter, bson.E{Key: "seq", Value: bson.D{{Key: "$gt", Value: q.AfterSeq}}})
	}
	if !q.Since.IsZero() {
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$gte", Value: q.Since}}})
	}
	return filter
}

// List returns matching messages in sequence order.
func (r *Relay) List(ctx context.Context, q domain.SignalQuery) ([]domain.SignalMessage, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.signals.Find(ctx, listFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("find signals: %w", err)
	}
	var docs []signalDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}

	out := make([]domain.SignalMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.message())
	}
	return out, nil
}

// Subscribe opens a change stream for inserts addressed to req.ParticipantID,
// then replays the stored backlog. Opening the stream first means an insert
// racing the replay is seen by one or the other; duplicates are dropped by id.
func (r *Relay) Subscribe(ctx context.Context, req domain.SubscribeRequest, onMessage func(domain.SignalMessage)) (domain.Subscription, error) {
	if req.CallID == "" || req.ParticipantID == "" {
		return nil, fmt.Errorf("subscribe: call id and participant id are required")
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument.call_id", Value: req.CallID},
			{Key: "fullDocument.to_participant_id", Value: req.ParticipantID},
		}}},
	}
	cs, err := r.signals.Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("subscribe: open change stream: %w", err)
	}

	backlog, err := r.List(ctx, domain.SignalQuery{
		CallID: req.CallID,
		To:     req.ParticipantID,
		Since:  req.Since,
	})
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		relay:  r,
		req:    req,
		fn:     onMessage,
		cs:     cs,
		cancel: cancel,
		seen:   make(map[string]struct{}),
		exited: make(chan struct{}),
	}
	go s.run(runCtx, backlog)
	return s, nil
}

type subscription struct {
	relay  *Relay
	req    domain.SubscribeRequest
	fn     func(domain.SignalMessage)
	cs     *mongo.ChangeStream
	cancel context.CancelFunc
	seen   map[string]struct{}
	exited chan struct{}
	once   sync.Once
}

func (s *subscription) deliver(ctx context.Context, m domain.SignalMessage) {
	if ctx.Err() != nil {
		return
	}
	if _, ok := s.seen[m.ID]; ok {
		return
	}
	if !s.req.Since.IsZero() && m.SentAt.Before(s.req.Since) {
		return
	}
	s.seen[m.ID] = struct{}{}
	s.fn(m)
}

func (s *subscription) run(ctx context.Context, backlog []domain.SignalMessage) {
	defer close(s.exited)
	defer s.cs.Close(context.Background())

	for _, m := range backlog {
		s.deliver(ctx, m)
	}

	for s.cs.Next(ctx) {
		var ev changeEvent
		if err := s.cs.Decode(&ev); err != nil {
			s.relay.logger.Warn().Err(err).Str("call_id", s.req.CallID).Msg("decode change event")
			continue
		}
		s.deliver(ctx, ev.FullDocument.message())
	}
	if err := s.cs.Err(); err != nil && ctx.Err() == nil {
		s.relay.logger.Error().Err(err).Str("call_id", s.req.CallID).Msg("change stream ended")
	}
}

// Unsubscribe closes the change stream and waits for an in-flight callback
// to return.
func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
	<-s.exited
}
