package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mileusna/useragent"
	"github.com/redis/go-redis/v9"
	"github.com/tutorstack/authcore/config"
	"github.com/tutorstack/authcore/services/logging"
	"github.com/tutorstack/authcore/services/token"
	"go.uber.org/zap"
)

var ErrStoreUnavailable = errors.New("session store unavailable")

const blacklistPrefix = "blacklist:"

func userSessionsKey(userID uint) string {
	return fmt.Sprintf("user_sessions:%d", userID)
}

func blacklistKey(jti string) string {
	return blacklistPrefix + jti
}

func familyKey(familyID string) string {
	return "token_family:" + familyID
}

func metaKey(jti string) string {
	return "session_meta:" + jti
}

// revokeAllScript snapshots the session set, blacklists every member for
// its remaining lifetime, and deletes the set in one atomic step. A login
// racing a password reset lands strictly before (and is blacklisted here)
// or strictly after (and survives as a fresh session).
var revokeAllScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1, 'WITHSCORES')
local now = tonumber(ARGV[1])
local revoked = 0
for i = 1, #members, 2 do
	local ttl = tonumber(members[i+1]) - now
	if ttl > 0 then
		redis.call('SET', ARGV[2] .. members[i], '1', 'EX', ttl)
		revoked = revoked + 1
	end
end
redis.call('DEL', KEYS[1])
return revoked
`)

// revokeOneScript removes a single JTI from the session set and blacklists
// it for its remaining lifetime, atomically.
var revokeOneScript = redis.NewScript(`
local exp = redis.call('ZSCORE', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
if exp then
	local ttl = tonumber(exp) - tonumber(ARGV[2])
	if ttl > 0 then
		redis.call('SET', ARGV[3] .. ARGV[1], '1', 'EX', ttl)
	end
	return 1
end
return 0
`)

// revokeFamilyScript blacklists every token ever issued in one rotation
// chain and removes them from the owner's session set.
var revokeFamilyScript = redis.NewScript(`
local members = redis.call('ZRANGE', KEYS[1], 0, -1, 'WITHSCORES')
local now = tonumber(ARGV[1])
for i = 1, #members, 2 do
	local ttl = tonumber(members[i+1]) - now
	if ttl > 0 then
		redis.call('SET', ARGV[2] .. members[i], '1', 'EX', ttl)
	end
	redis.call('ZREM', KEYS[2], members[i])
end
redis.call('DEL', KEYS[1])
return #members / 2
`)

// Service is the authoritative registry of live token identifiers. Every
// JTI of every live token appears in its owner's session set; removal from
// the set (or a blacklist entry) makes the token unverifiable regardless
// of its signature.
type Service struct {
	redis  *redis.Client
	config *config.Config
	logger *logging.Service
	now    func() time.Time
}

func NewService(client *redis.Client, cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		redis:  client,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Register adds a JTI to the user's session set with an expiry matching the
// token's own, and records it in its rotation family when one is given.
func (s *Service) Register(ctx context.Context, userID uint, jti, familyID string, expiresAt time.Time) error {
	now := s.now()
	pipe := s.redis.TxPipeline()

	key := userSessionsKey(userID)
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(now.Unix(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
	pipe.Expire(ctx, key, s.config.JWT.RefreshExpiry)

	if familyID != "" {
		fk := familyKey(familyID)
		pipe.ZAdd(ctx, fk, redis.Z{Score: float64(expiresAt.Unix()), Member: jti})
		pipe.Expire(ctx, fk, s.config.JWT.RefreshExpiry)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("failed to register session",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Debug("session registered",
		zap.Uint("user_id", userID),
		zap.String("jti", jti),
		zap.Time("expires_at", expiresAt))

	return nil
}

// RegisterPair registers both JTIs of a freshly issued pair. Implements
// token.SessionStore so rotation can swap tokens without a package cycle.
func (s *Service) RegisterPair(ctx context.Context, userID uint, pair *token.Pair) error {
	if err := s.Register(ctx, userID, pair.AccessJTI, pair.FamilyID, pair.AccessExpiresAt); err != nil {
		return err
	}
	return s.Register(ctx, userID, pair.RefreshJTI, pair.FamilyID, pair.RefreshExpiresAt)
}

// RegisterLogin registers a pair plus device metadata captured at login or
// OAuth exchange. Metadata lives under the refresh JTI with the same TTL.
func (s *Service) RegisterLogin(ctx context.Context, userID uint, pair *token.Pair, meta Metadata) error {
	if err := s.RegisterPair(ctx, userID, pair); err != nil {
		return err
	}

	ua := useragent.Parse(meta.UserAgent)
	fields := map[string]any{
		"browser":    ua.Name,
		"os":         ua.OS,
		"device":     ua.Device,
		"ip_address": meta.IPAddress,
		"created_at": s.now().Unix(),
	}

	mk := metaKey(pair.RefreshJTI)
	pipe := s.redis.TxPipeline()
	pipe.HSet(ctx, mk, fields)
	pipe.Expire(ctx, mk, s.config.JWT.RefreshExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		// Metadata is advisory; a failed write never fails the login.
		s.logger.Warn("failed to store session metadata",
			zap.Uint("user_id", userID),
			zap.Error(err))
	}

	return nil
}

// IsLive reports whether a JTI is still valid: present in its owner's
// session set and absent from the blacklist. Storage errors propagate so
// callers can fail closed.
func (s *Service) IsLive(ctx context.Context, userID uint, jti string) (bool, error) {
	pipe := s.redis.Pipeline()
	scoreCmd := pipe.ZScore(ctx, userSessionsKey(userID), jti)
	existsCmd := pipe.Exists(ctx, blacklistKey(jti))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Error("session liveness check failed",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	score, err := scoreCmd.Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if int64(score) <= s.now().Unix() {
		// Stale entry past its own expiry; prune lazily.
		s.redis.ZRem(ctx, userSessionsKey(userID), jti)
		return false, nil
	}

	if existsCmd.Val() > 0 {
		return false, nil
	}

	return true, nil
}

// IsRevoked reports blacklist membership only. Rotation uses it to detect
// replay of a rotated-out refresh token.
func (s *Service) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Blacklist rejects a JTI for the given remaining lifetime. The entry
// self-expires and never outlives the token it blocks.
func (s *Service) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, blacklistKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ConsumeRefresh atomically removes a refresh JTI from the user's session
// set. The return value decides the winner of a concurrent-rotation race:
// exactly one caller observes true.
func (s *Service) ConsumeRefresh(ctx context.Context, userID uint, jti string) (bool, error) {
	n, err := s.redis.ZRem(ctx, userSessionsKey(userID), jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Revoke is single-device logout: removes the JTI from the session set and
// blacklists it for its remaining lifetime, atomically.
func (s *Service) Revoke(ctx context.Context, userID uint, jti string) error {
	err := revokeOneScript.Run(ctx, s.redis,
		[]string{userSessionsKey(userID)},
		jti, s.now().Unix(), blacklistPrefix,
	).Err()
	if err != nil {
		s.logger.Error("failed to revoke session",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Info("session revoked",
		zap.Uint("user_id", userID),
		zap.String("jti", jti))

	return nil
}

// RevokeAll invalidates every live session of the user in one atomic step.
// Used after password reset, account compromise response, or an explicit
// "log out everywhere".
func (s *Service) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	revoked, err := revokeAllScript.Run(ctx, s.redis,
		[]string{userSessionsKey(userID)},
		s.now().Unix(), blacklistPrefix,
	).Int64()
	if err != nil {
		s.logger.Error("failed to revoke all sessions",
			zap.Uint("user_id", userID),
			zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Info("all sessions revoked",
		zap.Uint("user_id", userID),
		zap.Int64("count", revoked))

	return revoked, nil
}

// RevokeFamily revokes every token ever issued in one rotation chain.
// Triggered by refresh-token reuse detection.
func (s *Service) RevokeFamily(ctx context.Context, userID uint, familyID string) error {
	if familyID == "" {
		return nil
	}

	err := revokeFamilyScript.Run(ctx, s.redis,
		[]string{familyKey(familyID), userSessionsKey(userID)},
		s.now().Unix(), blacklistPrefix,
	).Err()
	if err != nil {
		s.logger.Error("failed to revoke token family",
			zap.Uint("user_id", userID),
			zap.String("family_id", familyID),
			zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.logger.Info("token family revoked",
		zap.Uint("user_id", userID),
		zap.String("family_id", familyID))

	return nil
}

// Sessions lists the user's live sessions that carry device metadata, i.e.
// one entry per login rather than per token.
func (s *Service) Sessions(ctx context.Context, userID uint) ([]SessionInfo, error) {
	now := s.now()
	members, err := s.redis.ZRangeByScoreWithScores(ctx, userSessionsKey(userID), &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	var sessions []SessionInfo
	for _, m := range members {
		jti, ok := m.Member.(string)
		if !ok {
			continue
		}

		meta, err := s.redis.HGetAll(ctx, metaKey(jti)).Result()
		if err != nil || len(meta) == 0 {
			continue
		}

		info := SessionInfo{
			JTI:       jti,
			ExpiresAt: time.Unix(int64(m.Score), 0),
			Browser:   meta["browser"],
			OS:        meta["os"],
			Device:    meta["device"],
			IPAddress: meta["ip_address"],
		}
		if created, err := strconv.ParseInt(meta["created_at"], 10, 64); err == nil {
			info.CreatedAt = time.Unix(created, 0)
		}
		sessions = append(sessions, info)
	}

	return sessions, nil
}
