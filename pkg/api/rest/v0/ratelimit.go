package v0_rest

import (
	"context"
	"encoding/base64"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fenix-social/realtime/pkg/rdb"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
)

// Ratelimiter keeps buckets in Redis when rdb.Client is set, so every process
// behind the same Redis shares them. Otherwise buckets live in memory.
type Ratelimiter struct {
	mu    sync.Mutex
	local map[string]*rate.Limiter
	now   func() time.Time
}

func NewRatelimiter() *Ratelimiter {
	return &Ratelimiter{
		local: make(map[string]*rate.Limiter),
		now:   time.Now,
	}
}

// Update a ratelimit for a resource (bucket) based on a scope and identifier.
//
// Only 1 ratelimit should be set before returning a response.
// Otherwise, the ratelimit headers might accidentally be overwritten.
//
// The bucket should be the action, such as 'send_message'.
// The scope should be one of the following: ip, user.
// The identifier should be the IP address or user ID.
func (rl *Ratelimiter) ratelimit(w http.ResponseWriter, bucket string, scope string, id string, limit int, seconds int) error {
	ratelimitHash := getRatelimitHash(bucket, scope, id)

	var newRemaining int
	var newTTL time.Duration
	if rdb.Client != nil {
		remaining, err := rdb.Client.Get(context.TODO(), ratelimitHash).Int()
		if err == redis.Nil {
			newRemaining = limit - 1
			newTTL = time.Duration(seconds) * time.Second
		} else {
			newRemaining = remaining - 1
			newTTL = rdb.Client.TTL(context.TODO(), ratelimitHash).Val()
		}

		if err := rdb.Client.Set(context.TODO(), ratelimitHash, newRemaining, newTTL).Err(); err != nil {
			return err
		}
	} else {
		lim := rl.limiter(ratelimitHash, limit, seconds)
		now := rl.now()
		lim.AllowN(now, 1)
		tokens := lim.TokensAt(now)
		newRemaining = int(math.Floor(tokens))
		if missing := float64(limit) - tokens; missing > 0 {
			newTTL = time.Duration(missing / float64(lim.Limit()) * float64(time.Second))
		}
	}

	// Set response headers
	w.Header().Set("X-Rtl-Bucket", bucket)
	w.Header().Set("X-Rtl-Scope", scope)
	w.Header().Set("X-Rtl-Remaining", strconv.FormatInt(int64(newRemaining), 10))
	w.Header().Set("X-Rtl-Reset", strconv.FormatInt(rl.now().Add(newTTL).UnixMilli(), 10))

	return nil
}

func (rl *Ratelimiter) ratelimited(bucket string, scope string, id string) bool {
	ratelimitHash := getRatelimitHash(bucket, scope, id)

	if rdb.Client != nil {
		remaining, err := rdb.Client.Get(context.TODO(), ratelimitHash).Int()
		if err == redis.Nil || remaining > 0 {
			return false
		}
		return true
	}

	rl.mu.Lock()
	lim, ok := rl.local[ratelimitHash]
	rl.mu.Unlock()
	if !ok {
		return false
	}
	return lim.TokensAt(rl.now()) < 1
}

func (rl *Ratelimiter) limiter(hash string, limit int, seconds int) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.local[hash]
	if !ok {
		every := time.Duration(seconds) * time.Second / time.Duration(limit)
		lim = rate.NewLimiter(rate.Every(every), limit)
		rl.local[hash] = lim
	}
	return lim
}

func getRatelimitHash(bucket string, scope string, id string) string {
	h := sha3.NewShake256()
	h.Write([]byte("rtl"))
	h.Write([]byte(bucket))
	h.Write([]byte(scope))
	h.Write([]byte(id))

	sum := make([]byte, 32)
	h.Read(sum)
	return base64.URLEncoding.EncodeToString(sum)
}
