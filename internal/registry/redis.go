package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript claims a fingerprint and records it in the export log in one step.
// KEYS[1] = fingerprint key
// KEYS[2] = claim log (sorted set scored by claim time in microseconds)
// ARGV[1] = claim timestamp (RFC 3339)
// ARGV[2] = claim time in unix microseconds
// ARGV[3] = fingerprint
var claimScript = redis.NewScript(`
if redis.call("SET", KEYS[1], ARGV[1], "NX") then
    redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
    return 1
end
return 0
`)

// Redis stores claims in Redis. Keys never expire.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis wraps an existing client. prefix namespaces every key, e.g. "ecocredit:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// DialRedis connects to addr and pings it before returning.
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) fingerprintKey(fp string) string { return r.prefix + "fingerprint:" + fp }
func (r *Redis) logKey() string                  { return r.prefix + "fingerprints" }

func (r *Redis) Claim(ctx context.Context, fingerprint string) (Claim, error) {
	fp, err := Normalize(fingerprint)
	if err != nil {
		return Claim{}, err
	}
	at := r.now().Truncate(time.Microsecond)
	res, err := claimScript.Run(ctx, r.client,
		[]string{r.fingerprintKey(fp), r.logKey()},
		at.Format(time.RFC3339Nano), at.UnixMicro(), fp,
	).Int64()
	if err != nil {
		return Claim{}, fmt.Errorf("%w: redis claim: %w", ErrUnavailable, err)
	}
	if res != 1 {
		return Claim{}, ErrAlreadyClaimed
	}
	return Claim{Fingerprint: fp, ClaimedAt: at}, nil
}

func (r *Redis) Export(ctx context.Context, fn func(Claim) error) error {
	const page = 500
	for start := int64(0); ; start += page {
		zs, err := r.client.ZRangeWithScores(ctx, r.logKey(), start, start+page-1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: redis export: %w", ErrUnavailable, err)
		}
		for _, z := range zs {
			fp, _ := z.Member.(string)
			c := Claim{Fingerprint: fp, ClaimedAt: time.UnixMicro(int64(z.Score)).UTC()}
			if err := fn(c); err != nil {
				return err
			}
		}
		if len(zs) < page {
			return nil
		}
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
