// Package product holds the data-model types shared by the product-queue,
// product-class, dissemination, and pattern-action packages: the
// content-derived Signature, the ProductInfo metadata record, and the
// immutable Product itself.
package product

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Signature is a 16-byte content-derived hash used for deduplication on
// insert. Two products with equal signatures are considered the same
// product.
type Signature [16]byte

// String renders the signature as 32 lowercase hex digits.
func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

// IsZero reports whether s is the all-zero signature.
func (s Signature) IsZero() bool {
	return s == Signature{}
}

// ParseSignature decodes 32 hex digits into a Signature.
func ParseSignature(hexStr string) (Signature, error) {
	var sig Signature
	if len(hexStr) != 32 {
		return sig, fmt.Errorf("product: signature must be 32 hex digits, got %d", len(hexStr))
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return sig, fmt.Errorf("product: decode signature: %w", err)
	}
	copy(sig[:], b)
	return sig, nil
}

// MarshalJSON renders the signature as its hex string, so it travels over
// the wire protocol the same way it appears in logs and SIG= hints.
func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	parsed, err := ParseSignature(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Info is the metadata record stored alongside every product's payload.
// ArrivalTimestamp is assigned by the writer at insert and is the queue's
// canonical ordering key.
type Info struct {
	Signature        Signature
	ArrivalTimestamp time.Time
	Feedtype         uint32
	Sequence         uint64
	Identifier       string
	Origin           string
	Size             uint32
}

// Product is immutable metadata plus an opaque payload, as stored once and
// delivered many times by the product-queue.
type Product struct {
	Info    Info
	Payload []byte
}
