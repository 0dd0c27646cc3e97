package admin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// NonceManager issues and verifies action nonces. A nonce is bound to an
// action and a user and stays valid for two ticks of half the lifetime,
// the way wp_create_nonce / wp_verify_nonce behave.
type NonceManager struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewNonceManager creates a manager signing with secret
func NewNonceManager(secret string, lifetime time.Duration) *NonceManager {
	if lifetime < 2*time.Second {
		lifetime = 2 * time.Second
	}
	return &NonceManager{secret: []byte(secret), lifetime: lifetime, now: time.Now}
}

func (n *NonceManager) tick() int64 {
	half := int64(n.lifetime / 2 / time.Second)
	now := n.now().Unix()
	return (now + half - 1) / half
}

func (n *NonceManager) sign(tick int64, action string, userID uint64) string {
	mac := hmac.New(sha256.New, n.secret)
	mac.Write([]byte(strconv.FormatInt(tick, 10) + "|" + action + "|" + strconv.FormatUint(userID, 10)))
	sum := hex.EncodeToString(mac.Sum(nil))
	return sum[len(sum)-12 : len(sum)-2]
}

// Create returns the nonce for action and user in the current tick
func (n *NonceManager) Create(action string, userID uint64) string {
	return n.sign(n.tick(), action, userID)
}

// Verify returns 1 when nonce was created in the current tick, 2 when in
// the previous one and 0 when it is invalid or expired.
func (n *NonceManager) Verify(nonce, action string, userID uint64) int {
	if nonce == "" {
		return 0
	}
	tick := n.tick()
	for age := int64(0); age < 2; age++ {
		expected := n.sign(tick-age, action, userID)
		if hmac.Equal([]byte(expected), []byte(nonce)) {
			return int(age) + 1
		}
	}
	return 0
}

// Lifetime is the maximum validity of a nonce
func (n *NonceManager) Lifetime() time.Duration {
	return n.lifetime
}
