// Package codec converts registry values to and from their snapshot
// documents.
package codec

import (
	"fmt"
	"log"
	"math"
	"math/big"
	"strconv"

	"voidstorage.ai/internal/sim/storage"
)

// Codec maps a value T to its document form D and back.
type Codec[T, D any] interface {
	Encode(v T) (D, error)
	Decode(d D) (T, error)
}

// Func adapts a pair of functions to a Codec.
type Func[T, D any] struct {
	EncodeFunc func(T) (D, error)
	DecodeFunc func(D) (T, error)
}

func (f Func[T, D]) Encode(v T) (D, error) { return f.EncodeFunc(v) }
func (f Func[T, D]) Decode(d D) (T, error) { return f.DecodeFunc(d) }

// FormatCapacity writes a capacity as a decimal string, the way documents
// carry it so that larger host capacities survive a round trip.
func FormatCapacity(c int64) string { return strconv.FormatInt(c, 10) }

// ParseCapacity reads a decimal capacity, clamping values above MaxInt64.
func ParseCapacity(s string) (int64, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("capacity %q is not a decimal integer", s)
	}
	if n.Sign() <= 0 {
		return 0, fmt.Errorf("capacity must be positive, was %s", s)
	}
	if !n.IsInt64() {
		return math.MaxInt64, nil
	}
	return n.Int64(), nil
}

// restoreLedger refills a restored ledger. Items the ledger rejects are
// logged and dropped.
func restoreLedger(logger *log.Logger, id string, ledger *storage.Storage, items map[string]int64) {
	for item, qty := range items {
		if _, err := ledger.Deposit(item, qty); err != nil {
			logger.Printf("WARN restore ledger %s: dropped %d %s: %v", id, qty, item, err)
		}
	}
}

func loggerOr(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}
