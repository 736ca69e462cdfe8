package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates the token is unknown or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates reuse of an already-rotated token.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshStore persists refresh tokens with rotation and replay detection.
// Tokens belong to a family; presenting a superseded member of the family
// revokes the whole family.
type RefreshStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
	RevokeUserTokens(userID string) error
}

type refreshFamily struct {
	userID      string
	currentHash string
	expiry      time.Time
}

// MemoryRefreshStore keeps refresh token families in memory.
type MemoryRefreshStore struct {
	mu           sync.Mutex
	families     map[string]refreshFamily       // familyID -> family
	tokenFamily  map[string]string              // tokenHash -> familyID
	familyTokens map[string]map[string]struct{} // familyID -> token hashes
	userFamilies map[string]map[string]struct{} // userID -> family IDs
}

// NewMemoryRefreshStore constructs an in-memory refresh token store.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{
		families:     make(map[string]refreshFamily),
		tokenFamily:  make(map[string]string),
		familyTokens: make(map[string]map[string]struct{}),
		userFamilies: make(map[string]map[string]struct{}),
	}
}

// NewToken issues and stores a new refresh token family.
func (s *MemoryRefreshStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	now := time.Now().UTC()

	s.mu.Lock()
	s.families[familyID] = refreshFamily{
		userID:      userID,
		currentHash: tokenHash,
		expiry:      now.Add(ttl),
	}
	s.tokenFamily[tokenHash] = familyID
	s.familyTokens[familyID] = map[string]struct{}{tokenHash: {}}
	if s.userFamilies[userID] == nil {
		s.userFamilies[userID] = make(map[string]struct{})
	}
	s.userFamilies[userID][familyID] = struct{}{}
	s.mu.Unlock()
	return token, nil
}

// RotateToken validates the token and issues a new one in the same family.
func (s *MemoryRefreshStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.tokenFamily[tokenHash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family, ok := s.families[familyID]
	if !ok || now.After(family.expiry) {
		s.revokeFamilyLocked(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.currentHash != tokenHash {
		// Reuse of a rotated token: revoke the whole family.
		s.revokeFamilyLocked(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	newToken, err := randomToken(32)
	if err != nil {
		return "", "", err
	}
	newHash := refreshTokenHash(newToken)
	family.currentHash = newHash
	family.expiry = now.Add(ttl)
	s.families[familyID] = family
	s.tokenFamily[newHash] = familyID
	s.familyTokens[familyID][newHash] = struct{}{}
	return family.userID, newToken, nil
}

// DeleteToken revokes the entire token family containing this token.
func (s *MemoryRefreshStore) DeleteToken(token string) error {
	tokenHash := refreshTokenHash(token)
	s.mu.Lock()
	if familyID, ok := s.tokenFamily[tokenHash]; ok {
		s.revokeFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

// RevokeUserTokens revokes all refresh token families for a user.
func (s *MemoryRefreshStore) RevokeUserTokens(userID string) error {
	s.mu.Lock()
	familyIDs := make([]string, 0, len(s.userFamilies[userID]))
	for familyID := range s.userFamilies[userID] {
		familyIDs = append(familyIDs, familyID)
	}
	for _, familyID := range familyIDs {
		s.revokeFamilyLocked(familyID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshStore) revokeFamilyLocked(familyID string) {
	userID := s.families[familyID].userID
	for h := range s.familyTokens[familyID] {
		delete(s.tokenFamily, h)
	}
	delete(s.familyTokens, familyID)
	delete(s.families, familyID)
	if userID != "" {
		if fams, ok := s.userFamilies[userID]; ok {
			delete(fams, familyID)
			if len(fams) == 0 {
				delete(s.userFamilies, userID)
			}
		}
	}
}

// RedisRefreshStore stores refresh token families in Redis.
type RedisRefreshStore struct {
	client *redis.Client
}

// NewRedisRefreshStore builds a Redis-backed refresh token store.
func NewRedisRefreshStore(addr, password string) *RedisRefreshStore {
	return &RedisRefreshStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
	}
}

// NewToken issues and stores a new refresh token family.
func (s *RedisRefreshStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomToken(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomToken(16)
	if err != nil {
		return "", err
	}
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(tokenHash), familyID, ttl)
	pipe.HSet(ctx, familyKey(familyID), map[string]any{
		"userId":      userID,
		"currentHash": tokenHash,
	})
	pipe.Expire(ctx, familyKey(familyID), ttl)
	pipe.SAdd(ctx, familyTokensKey(familyID), tokenHash)
	pipe.Expire(ctx, familyTokensKey(familyID), ttl)
	pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
	pipe.Expire(ctx, userFamiliesKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

// RotateToken validates the token and issues a new one in the same family.
// The family hash is updated under WATCH so concurrent rotations retry.
func (s *RedisRefreshStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		familyID, err := s.client.Get(ctx, tokenKey(tokenHash)).Result()
		if err == redis.Nil {
			return "", "", ErrInvalidRefreshToken
		}
		if err != nil {
			return "", "", err
		}

		var (
			userID       string
			newToken     string
			shouldRevoke bool
		)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			familyData, err := tx.HGetAll(ctx, familyKey(familyID)).Result()
			if err != nil {
				return err
			}
			currentHash := familyData["currentHash"]
			userID = familyData["userId"]
			if len(familyData) == 0 || currentHash == "" || userID == "" {
				shouldRevoke = true
				return ErrInvalidRefreshToken
			}
			if currentHash != tokenHash {
				shouldRevoke = true
				return ErrRefreshTokenReplay
			}

			newToken, err = randomToken(32)
			if err != nil {
				return err
			}
			newHash := refreshTokenHash(newToken)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, tokenKey(newHash), familyID, ttl)
				pipe.HSet(ctx, familyKey(familyID), map[string]any{
					"userId":      userID,
					"currentHash": newHash,
				})
				pipe.Expire(ctx, familyKey(familyID), ttl)
				pipe.SAdd(ctx, familyTokensKey(familyID), newHash)
				pipe.Expire(ctx, familyTokensKey(familyID), ttl)
				pipe.SAdd(ctx, userFamiliesKey(userID), familyID)
				pipe.Expire(ctx, userFamiliesKey(userID), ttl)
				return nil
			})
			return err
		}, familyKey(familyID))

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if shouldRevoke {
				_ = s.revokeFamily(ctx, familyID, userID)
			}
			if errors.Is(err, ErrRefreshTokenReplay) || errors.Is(err, ErrInvalidRefreshToken) {
				return "", "", err
			}
			return "", "", err
		}
		return userID, newToken, nil
	}
}

// DeleteToken revokes the entire token family containing this token.
func (s *RedisRefreshStore) DeleteToken(token string) error {
	tokenHash := refreshTokenHash(token)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	familyID, err := s.client.Get(ctx, tokenKey(tokenHash)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	familyData, err := s.client.HGetAll(ctx, familyKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	return s.revokeFamily(ctx, familyID, familyData["userId"])
}

// RevokeUserTokens revokes all refresh token families for a user.
func (s *RedisRefreshStore) RevokeUserTokens(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	familyIDs, err := s.client.SMembers(ctx, userFamiliesKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.revokeFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	if err := s.client.Del(ctx, userFamiliesKey(userID)).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func (s *RedisRefreshStore) revokeFamily(ctx context.Context, familyID, userID string) error {
	if userID == "" {
		familyData, err := s.client.HGetAll(ctx, familyKey(familyID)).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		userID = familyData["userId"]
	}
	hashes, err := s.client.SMembers(ctx, familyTokensKey(familyID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, tokenHash := range hashes {
		pipe.Del(ctx, tokenKey(tokenHash))
	}
	pipe.Del(ctx, familyTokensKey(familyID))
	pipe.Del(ctx, familyKey(familyID))
	if userID != "" {
		pipe.SRem(ctx, userFamiliesKey(userID), familyID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func refreshTokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func tokenKey(tokenHash string) string {
	return "refresh:token:" + tokenHash
}

func familyKey(familyID string) string {
	return "refresh:family:" + familyID
}

func familyTokensKey(familyID string) string {
	return "refresh:family_tokens:" + familyID
}

func userFamiliesKey(userID string) string {
	return "refresh:user_families:" + userID
}
