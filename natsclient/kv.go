package natsclient

import (
	"context"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/sensorkit/errors"
	"github.com/c360/sensorkit/pkg/retry"
)

// KeyValue opens an existing KV bucket
func (c *Client) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	js := c.JetStream()
	if js == nil {
		return nil, errors.WrapHard(errors.ErrNoConnection, "Client", "KeyValue", "open bucket "+bucket)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, errors.WrapHard(errors.ErrBucketNotFound, "Client", "KeyValue", "open bucket "+bucket)
		}
		return nil, errors.WrapHard(err, "Client", "KeyValue", "open bucket "+bucket)
	}
	return kv, nil
}

// EnsureKeyValue opens a KV bucket, creating it if missing. Creation is
// retried; another instance may be racing to create the same bucket.
func (c *Client) EnsureKeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js := c.JetStream()
	if js == nil {
		return nil, errors.WrapHard(errors.ErrNoConnection, "Client", "EnsureKeyValue",
			"ensure bucket "+cfg.Bucket)
	}

	kv, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (jetstream.KeyValue, error) {
		existing, err := js.KeyValue(ctx, cfg.Bucket)
		if err == nil {
			return existing, nil
		}
		if !stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, err
		}
		return js.CreateKeyValue(ctx, cfg)
	})
	if err != nil {
		return nil, errors.WrapFatal(err, "Client", "EnsureKeyValue", "ensure bucket "+cfg.Bucket)
	}

	c.logger.Info("KV bucket ready", "bucket", cfg.Bucket)
	return kv, nil
}
