package output

import (
	"fmt"

	"github.com/cuemby/sweep/pkg/types"
)

// AssemblyError reports inputs that cannot form a valid artifact. Nothing is
// written when it is returned.
type AssemblyError struct {
	Partition types.PartitionKey
	Reason    string
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("cannot assemble artifact for %s: %s", e.Partition, e.Reason)
}

func assemblyErrorf(partition types.PartitionKey, format string, args ...any) error {
	return &AssemblyError{Partition: partition, Reason: fmt.Sprintf(format, args...)}
}
