package utils

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a rider or driver password. Costs outside bcrypt's
// range are clamped.
func HashPassword(plain string, cost int) (string, error) {
	cost = min(max(cost, bcrypt.MinCost), bcrypt.MaxCost)
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var (
	decoyOnce sync.Once
	decoyHash []byte
)

// VerifyPassword reports whether plain matches hash. An empty hash, as for
// an unknown account, never matches but still costs one bcrypt comparison
// so unknown emails and wrong passwords take the same time.
func VerifyPassword(hash, plain string) bool {
	if hash == "" {
		decoyOnce.Do(func() {
			h, _ := HashPassword("campus-shuttle", bcrypt.DefaultCost)
			decoyHash = []byte(h)
		})
		_ = bcrypt.CompareHashAndPassword(decoyHash, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}
