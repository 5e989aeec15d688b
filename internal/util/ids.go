package util

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

func GenerateUUID() string {
	newUUID, err := uuid.NewRandom()
	if err != nil {
		log.Fatalf("Failed to generate UUID: %v", err)
	}
	return newUUID.String()
}

// NewReceiptRef builds the caller-generated receipt reference passed to the
// gateway on order creation. The same reference is reused across retries of
// one initiation so a gateway that deduplicates on receipt creates a single
// order.
func NewReceiptRef() string {
	return fmt.Sprintf("rcpt_%d_%s", time.Now().Unix(), GenerateUUID()[:8])
}
