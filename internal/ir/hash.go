package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DomainOperation separates operation ids from any other hash use.
// The version suffix leaves room for changing the algorithm later.
const DomainOperation = "offsync/operation/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OperationID computes the id of an operation. The id is also sent to the
// server as an idempotency key, so it must be stable across restarts: it is
// derived only from data that is persisted with the operation.
func OperationID(kind string, variables IRObject, seq int64, createdAt time.Time) (string, error) {
	if variables == nil {
		variables = IRObject{}
	}
	obj := IRObject{
		"kind":       IRString(kind),
		"variables":  variables,
		"seq":        IRInt(seq),
		"created_at": IRInt(createdAt.UnixMilli()),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("OperationID: %w", err)
	}
	return hashWithDomain(DomainOperation, canonical), nil
}
