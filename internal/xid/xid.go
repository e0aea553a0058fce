package xid

import (
	"github.com/google/uuid"
)

// New returns a random (v4) UUID string. Every persisted row uses one.
func New() string {
	return uuid.NewString()
}

func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
