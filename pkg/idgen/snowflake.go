package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake layout, 64 bits:
//
//	0 | 41 bits ms since epoch | 10 bits worker | 12 bits sequence
const (
	epoch          = int64(1704067200000) // 2024-01-01T00:00:00Z
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake generates time-ordered int64 ids.
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	initOnce         sync.Once

	// used when Init was called with an invalid worker id
	fallbackGenerator = &Snowflake{workerID: 1}
)

// NewSnowflake returns a generator for the given worker id.
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets up the package-level generator. Only the first call has effect.
func Init(workerID int64) error {
	var err error
	initOnce.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID returns the next id from the package-level generator, initialising
// it with worker 1 when Init was never called.
func NextID() int64 {
	_ = Init(1)
	if defaultGenerator == nil {
		return fallbackGenerator.Generate()
	}
	return defaultGenerator.Generate()
}

// Generate returns the next id.
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.timestamp {
		// clock moved backwards; stay on the last issued millisecond
		now = s.timestamp
	}

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateTransactionNo returns a journal entry number, e.g. TXN20240115143052_1234567890.
func GenerateTransactionNo() string {
	return numbered("TXN")
}

// GenerateReservationNo returns a credit reservation number.
func GenerateReservationNo() string {
	return numbered("RSV")
}

func numbered(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s_%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}
