package service

import (
	"time"

	"github.com/google/uuid"
)

var (
	doseNamespace    = uuid.MustParse("6f1c52f2-6a5e-4f0e-9d43-1f3c7b0e2a91")
	doseLogNamespace = uuid.MustParse("0b7d9a44-2c1e-4c8e-8f5e-93a4d61f7c20")
)

// DoseID derives the stable identity of the occurrence of scheduleID at original,
// so re-expanding a window yields the same IDs
func DoseID(scheduleID string, original time.Time) string {
	key := scheduleID + "|" + original.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(doseNamespace, []byte(key)).String()
}

// doseLogID derives the log written when doseID leaves pending; a dose has at most one
func doseLogID(doseID string) string {
	return uuid.NewSHA1(doseLogNamespace, []byte(doseID)).String()
}
