package session

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestRevokers(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	revokers := map[string]Revoker{
		"memory": NewMemoryRevoker(),
		"redis":  NewRedisRevoker(redisSrv.Addr(), ""),
	}
	for name, revoker := range revokers {
		t.Run(name, func(t *testing.T) {
			revoked, err := revoker.IsRevoked("jti-1")
			if err != nil {
				t.Fatalf("is revoked: %v", err)
			}
			if revoked {
				t.Fatal("unknown jti must not be revoked")
			}
			if err := revoker.Revoke("jti-1", time.Minute); err != nil {
				t.Fatalf("revoke: %v", err)
			}
			revoked, err = revoker.IsRevoked("jti-1")
			if err != nil {
				t.Fatalf("is revoked: %v", err)
			}
			if !revoked {
				t.Fatal("jti should be revoked")
			}
			// Zero TTL revocations are dropped: the token is already expired.
			if err := revoker.Revoke("jti-2", 0); err != nil {
				t.Fatalf("revoke zero ttl: %v", err)
			}
			revoked, err = revoker.IsRevoked("jti-2")
			if err != nil {
				t.Fatalf("is revoked: %v", err)
			}
			if revoked {
				t.Fatal("zero ttl revocation should be a no-op")
			}
		})
	}
}

func TestMemoryRevokerExpiry(t *testing.T) {
	revoker := NewMemoryRevoker()
	if err := revoker.Revoke("jti-1", time.Millisecond); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	revoked, err := revoker.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("is revoked: %v", err)
	}
	if revoked {
		t.Fatal("expired revocation entries should age out")
	}
}
