package kafka

import (
	"math"
	"sync"

	"github.com/segmentio/kafka-go"
)

type topicPartition struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	inFlight map[int64]int
	done     map[int64]kafka.Message
}

// offsetTracker lets several workers finish messages out of order while
// each partition is only committed up to the message just below its
// lowest offset still in flight. Committing an offset in kafka marks every
// lower offset of the partition as consumed.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[topicPartition]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[topicPartition]*partitionOffsets)}
}

// start marks msg as fetched and not yet handled
func (t *offsetTracker) start(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := topicPartition{topic: msg.Topic, partition: msg.Partition}
	p, ok := t.partitions[key]
	if !ok {
		p = &partitionOffsets{
			inFlight: make(map[int64]int),
			done:     make(map[int64]kafka.Message),
		}
		t.partitions[key] = p
	}
	p.inFlight[msg.Offset]++
}

// finish marks msg as handled and returns the message whose offset may now
// be committed for its partition. ok is false when a lower offset is still
// in flight.
func (t *offsetTracker) finish(msg kafka.Message) (commit kafka.Message, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.partitions[topicPartition{topic: msg.Topic, partition: msg.Partition}]
	if !exists {
		return msg, true
	}

	if p.inFlight[msg.Offset] <= 1 {
		delete(p.inFlight, msg.Offset)
	} else {
		p.inFlight[msg.Offset]--
	}
	p.done[msg.Offset] = msg

	lowest := int64(math.MaxInt64)
	for offset := range p.inFlight {
		if offset < lowest {
			lowest = offset
		}
	}

	for offset, m := range p.done {
		if offset >= lowest {
			continue
		}
		if !ok || offset > commit.Offset {
			commit, ok = m, true
		}
		delete(p.done, offset)
	}
	return commit, ok
}
