package shared

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Reference prefixes per document/ledger kind.
const (
	RefPrefixReceipt    = "RCT"
	RefPrefixDelivery   = "DLV"
	RefPrefixTransfer   = "TRF"
	RefPrefixAdjustment = "ADJ"
	RefPrefixLedger     = "LED"
)

// NewReference generates a human-readable, type-prefixed reference such as
// RCT-6F3A2B1C9D0E. Collisions are vanishingly rare; writers retry with a
// fresh reference when the unique constraint trips.
func NewReference(prefix string) string {
	id := uuid.New()
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(hex.EncodeToString(id[:6])))
}
