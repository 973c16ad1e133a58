package types

// Key identifies one entity inside a batch operation.
type Key string

// Method is the rest operation a request performs.
type Method string

const (
	Get                Method = "GET"
	Create             Method = "CREATE"
	BatchGet           Method = "BATCH_GET"
	BatchCreate        Method = "BATCH_CREATE"
	BatchUpdate        Method = "BATCH_UPDATE"
	BatchPartialUpdate Method = "BATCH_PARTIAL_UPDATE"
	BatchDelete        Method = "BATCH_DELETE"
)

// IsBatchKeyed reports whether the method addresses an explicit set of existing keys.
func (m Method) IsBatchKeyed() bool {
	switch m {
	case BatchGet, BatchUpdate, BatchPartialUpdate, BatchDelete:
		return true
	}
	return false
}

// NoPartition marks a key whose partition could not be determined.
const NoPartition = -1

