package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout for this gateway's namespace.
const (
	prefixIdentity      = "gateway:identities:"
	keyIdentityIndex    = "gateway:identities:index"
	prefixCredential    = "gateway:credentials:"
	listKeyRequestLogs  = "gateway:logs"
)

// RedisStore is a Store backed by github.com/redis/go-redis/v9, storing each
// account as a hash and keeping an index set of active account emails.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an already-constructed redis.Client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func identityKey(email string) string { return prefixIdentity + email }

func (s *RedisStore) GetActiveAccounts(ctx context.Context) ([]Account, error) {
	emails, err := s.rdb.SMembers(ctx, keyIdentityIndex).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Account, 0, len(emails))
	for _, email := range emails {
		data, err := s.rdb.HGetAll(ctx, identityKey(email)).Result()
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			continue
		}
		a, err := accountFromHash(email, data)
		if err != nil {
			return nil, err
		}
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt.Before(out[j].LastUsedAt) })
	return out, nil
}

func (s *RedisStore) UpdateAccount(ctx context.Context, email string, patch AccountPatch) error {
	fields := map[string]interface{}{}
	if patch.AccessToken != nil {
		fields["accessToken"] = *patch.AccessToken
	}
	if patch.RefreshToken != nil {
		fields["refreshToken"] = *patch.RefreshToken
	}
	if patch.ExpiresAt != nil {
		fields["expiresAt"] = patch.ExpiresAt.Format(time.RFC3339Nano)
	}
	if patch.LastUsedAt != nil {
		fields["lastUsedAt"] = patch.LastUsedAt.Format(time.RFC3339Nano)
	}
	if patch.Active != nil {
		fields["active"] = strconv.FormatBool(*patch.Active)
		if *patch.Active {
			s.rdb.SAdd(ctx, keyIdentityIndex, email)
		} else {
			s.rdb.SRem(ctx, keyIdentityIndex, email)
		}
	}
	if patch.ExhaustedAt != nil {
		if patch.ExhaustedAt.IsZero() {
			fields["exhaustedAt"] = ""
		} else {
			fields["exhaustedAt"] = patch.ExhaustedAt.Format(time.RFC3339Nano)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return s.rdb.HSet(ctx, identityKey(email), fields).Err()
}

func (s *RedisStore) IncrementAccountStats(ctx context.Context, email string, delta StatsDelta) error {
	pipe := s.rdb.TxPipeline()
	pipe.HIncrBy(ctx, identityKey(email), "total", 1)
	pipe.HIncrBy(ctx, identityKey(email), "successful", delta.Successful)
	pipe.HIncrBy(ctx, identityKey(email), "failed", delta.Failed)
	pipe.HIncrBy(ctx, identityKey(email), "tokens", delta.Tokens)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ReactivateExhaustedAccounts(ctx context.Context, cooldown time.Duration) (int, error) {
	emails, err := s.rdb.Keys(ctx, prefixIdentity+"*").Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	count := 0
	for _, key := range emails {
		data, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		raw, ok := data["exhaustedAt"]
		if !ok || raw == "" {
			continue
		}
		exhaustedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			continue
		}
		if now.Sub(exhaustedAt) < cooldown {
			continue
		}
		email := key[len(prefixIdentity):]
		if err := s.rdb.HSet(ctx, key, map[string]interface{}{"active": "true", "exhaustedAt": ""}).Err(); err != nil {
			continue
		}
		s.rdb.SAdd(ctx, keyIdentityIndex, email)
		count++
	}
	return count, nil
}

func (s *RedisStore) AddRequestLog(ctx context.Context, entry RequestLogEntry) error {
	payload := fmt.Sprintf("%s|%d|%v|%s", entry.Identity, entry.TokenCount, entry.Success, entry.Timestamp.Format(time.RFC3339Nano))
	return s.rdb.LPush(ctx, listKeyRequestLogs, payload).Err()
}

func (s *RedisStore) ValidateAPIKey(ctx context.Context, key string) (bool, error) {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	n, err := s.rdb.Exists(ctx, prefixCredential+digest).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func accountFromHash(email string, data map[string]string) (Account, error) {
	a := Account{Email: email}
	a.AccessToken = data["accessToken"]
	a.RefreshToken = data["refreshToken"]
	a.ProjectID = data["projectId"]
	if v, ok := data["expiresAt"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			a.ExpiresAt = t
		}
	}
	if v, ok := data["lastUsedAt"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			a.LastUsedAt = t
		}
	}
	if v, ok := data["exhaustedAt"]; ok && v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			a.ExhaustedAt = &t
		}
	}
	if v, ok := data["active"]; ok {
		a.Active, _ = strconv.ParseBool(v)
	}
	a.Total, _ = strconv.ParseInt(data["total"], 10, 64)
	a.Successful, _ = strconv.ParseInt(data["successful"], 10, 64)
	a.Failed, _ = strconv.ParseInt(data["failed"], 10, 64)
	a.Tokens, _ = strconv.ParseInt(data["tokens"], 10, 64)
	return a, nil
}
