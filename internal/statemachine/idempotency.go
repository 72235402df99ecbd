package statemachine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ClientOrderID derives the idempotency key of a trade. Identical intents inside the
// same time bucket map to the same key.
func ClientOrderID(vault, fromMint, toMint string, amount uint64, at time.Time, bucket time.Duration) string {
	width := int64(bucket / time.Second)
	if width < 1 {
		width = 1
	}
	slot := at.Unix() / width
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d|%d", vault, fromMint, toMint, amount, slot)))
	return hex.EncodeToString(sum[:])
}
