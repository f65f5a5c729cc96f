package xbridge

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// IDGenerator returns a unique string per call. Used for correlation ids and
// default trace ids.
type IDGenerator func() string

// NewID returns a random UUID, or a time+random id when the system random
// source is unavailable.
func NewID() string {
	if u, err := uuid.NewRandom(); err == nil {
		return u.String()
	}
	return fallbackID()
}

func fallbackID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}
