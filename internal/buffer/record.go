package buffer

import (
	"fmt"
	"time"
)

// PartitionKey identifies one ordered sub-stream of the source. It is
// comparable and used as the map key for all per-partition state.
type PartitionKey struct {
	Topic     string
	Partition int32
}

func (k PartitionKey) String() string {
	return fmt.Sprintf("%s-%d", k.Topic, k.Partition)
}

// Record is one accepted source record. Immutable once created; owned by the
// partition buffer until a flush hands it to the ingestion channel.
type Record struct {
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string][]byte
	Timestamp time.Time
	Size      int64 // approximate wire size in bytes
}
