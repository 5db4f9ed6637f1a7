package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in a Redis hash (field = document ID) and
// announces every write on a single pub/sub channel. One subscriber
// connection per store feeds the local hub.
type RedisStore struct {
	client  *redis.Client
	pubsub  *redis.PubSub
	prefix  string
	channel string
	hub     *hub
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// NewRedisStore connects to redisURL and starts the change feed.
func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, namespace)
}

// NewRedisStoreWithClient creates a store from an existing Redis client. The
// store owns the client from here on.
func NewRedisStoreWithClient(client *redis.Client, namespace string) (*RedisStore, error) {
	if namespace == "" {
		namespace = "docstore"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &RedisStore{
		client:  client,
		prefix:  namespace + ":doc:",
		channel: namespace + ":changes",
		hub:     newHub(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	pubsub := client.Subscribe(ctx, s.channel)
	// Wait for the subscription to be confirmed so no write issued after
	// construction can slip past the feed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.pubsub = pubsub
	go s.listen(ctx)
	return s, nil
}

// key generates the Redis hash key for a collection
func (s *RedisStore) key(collection string) string {
	return s.prefix + collection
}

func encodeChange(collection, id string) string {
	return collection + "\n" + id
}

func decodeChange(payload string) (collection, id string, ok bool) {
	collection, id, ok = strings.Cut(payload, "\n")
	return collection, id, ok
}

func (s *RedisStore) listen(ctx context.Context) {
	defer close(s.done)
	for {
		msg, err := s.pubsub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("docstore: redis change feed error, retrying: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			// (Re)subscribed: anything published while disconnected is lost.
			if m.Kind == "subscribe" {
				s.hub.pokeAll()
			}
		case *redis.Message:
			if collection, id, ok := decodeChange(m.Payload); ok {
				s.hub.publish(collection, id)
			}
		}
	}
}

func (s *RedisStore) Put(ctx context.Context, path string, doc json.RawMessage) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(collection), id, []byte(doc))
		pipe.Publish(ctx, s.channel, encodeChange(collection, id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Create(ctx context.Context, path string, doc json.RawMessage) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	created, err := s.client.HSetNX(ctx, s.key(collection), id, []byte(doc)).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if !created {
		return ErrExists
	}
	if err := s.client.Publish(ctx, s.channel, encodeChange(collection, id)).Err(); err != nil {
		return fmt.Errorf("announce %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	collection, id, err := Split(path)
	if err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return data, nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	collection, id, err := Split(path)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key(collection), id)
		pipe.Publish(ctx, s.channel, encodeChange(collection, id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, collection string) ([]Document, error) {
	if err := validatePath(collection); err != nil {
		return nil, err
	}
	members, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	docs := make([]Document, 0, len(members))
	for id, data := range members {
		docs = append(docs, Document{ID: id, Data: json.RawMessage(data)})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func (s *RedisStore) SubscribeDoc(ctx context.Context, path string, fn func(DocSnapshot)) (Subscription, error) {
	return subscribeDoc(ctx, s.hub, s, path, fn)
}

func (s *RedisStore) SubscribeCollection(ctx context.Context, collection string, fn func(CollectionSnapshot)) (Subscription, error) {
	return subscribeCollection(ctx, s.hub, s, collection, fn)
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close stops every subscription and closes the Redis connection
func (s *RedisStore) Close() error {
	var err error
	s.once.Do(func() {
		s.hub.close()
		s.cancel()
		// Closing the pub/sub connection unblocks the pending Receive.
		_ = s.pubsub.Close()
		<-s.done
		err = s.client.Close()
	})
	return err
}
