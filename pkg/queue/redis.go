package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Consumer pulls fine-tune request bodies from a Redis list queue with
// at-least-once delivery. A popped message is parked on a per-worker
// processing list until it is acknowledged or rejected, so a crashed
// worker's in-flight message can be requeued on restart.
type Consumer struct {
	redis      *redis.Client
	queue      string
	processing string
	dead       string
}

// Delivery is one message handed to the worker. Exactly one of Ack or
// Reject must be called per delivery.
type Delivery struct {
	Body     []byte
	consumer *Consumer
	raw      string
}

// NewConsumer connects to Redis and verifies the broker is reachable.
// Connection failure here is fatal to the worker process.
func NewConsumer(redisURL, queueName, workerID string) (*Consumer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Consumer{
		redis:      client,
		queue:      "queue:" + queueName,
		processing: fmt.Sprintf("queue:%s:processing:%s", queueName, workerID),
		dead:       "queue:" + queueName + ":dead",
	}, nil
}

// RequeueOrphans moves messages left on this worker's processing list by a
// previous incarnation back onto the main queue. Returns how many were
// recovered.
func (c *Consumer) RequeueOrphans(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := c.redis.LMove(ctx, c.processing, c.queue, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// receiveRetryDelay paces reconnect attempts when the broker is down.
var receiveRetryDelay = 2 * time.Second

// Receive blocks until a message is available or ctx is canceled. The pop
// waits in short intervals so shutdown is never stalled by the broker, and
// transport errors are retried with a backoff so an outage does not spin
// the worker.
func (c *Consumer) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := c.redis.BLMove(ctx, c.queue, c.processing, "LEFT", "RIGHT", 5*time.Second).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("queue receive error, retrying: %v", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(receiveRetryDelay):
			}
			continue
		}

		return &Delivery{Body: []byte(raw), consumer: c, raw: raw}, nil
	}
}

// Ack removes the message from the processing list, completing delivery.
func (d *Delivery) Ack(ctx context.Context) error {
	return d.consumer.redis.LRem(ctx, d.consumer.processing, 1, d.raw).Err()
}

// Reject removes the message without requeueing and parks it on the
// dead-letter list for operator inspection. Malformed requests never
// self-heal, so they are not retried.
func (d *Delivery) Reject(ctx context.Context) error {
	pipe := d.consumer.redis.TxPipeline()
	pipe.LRem(ctx, d.consumer.processing, 1, d.raw)
	pipe.RPush(ctx, d.consumer.dead, d.raw)
	_, err := pipe.Exec(ctx)
	return err
}

// Enqueue pushes a raw message body onto the queue. Used by producers and
// by tests exercising the full consume path.
func (c *Consumer) Enqueue(ctx context.Context, body []byte) error {
	return c.redis.RPush(ctx, c.queue, body).Err()
}

// Length reports the number of messages waiting on the queue.
func (c *Consumer) Length(ctx context.Context) (int64, error) {
	return c.redis.LLen(ctx, c.queue).Result()
}

func (c *Consumer) Close() error {
	return c.redis.Close()
}
