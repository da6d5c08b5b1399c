package deadstate

import (
	"bytes"
	"fmt"
)

// Stats records statistics of a dead state elimination run.
type Stats struct {
	// Number of data flow iterations until the fixed point.
	Iterations int

	// Call stats.
	NumIntrinsicCalls int
	NumExternalCalls  int
	NumIndirectCalls  int
	NumInternalCalls  int

	// Analysis stats.
	NumDeadStores        int
	NumLoadLoadForwards  int
	NumStoreLoadForwards int

	// Deletion stats.
	NumDeleted      int
	NumInstsPreOpt  int
	NumInstsPostOpt int
}

// String returns the report of the statistics.
func (stats *Stats) String() string {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "did %d data flow iterations:\n", stats.Iterations)
	fmt.Fprintln(buf, "  call stats:")
	fmt.Fprintf(buf, "    intrinsic calls: %d\n", stats.NumIntrinsicCalls)
	fmt.Fprintf(buf, "    external calls: %d\n", stats.NumExternalCalls)
	fmt.Fprintf(buf, "    indirect calls: %d\n", stats.NumIndirectCalls)
	fmt.Fprintf(buf, "    direct calls: %d\n", stats.NumInternalCalls)
	fmt.Fprintln(buf, "  analysis stats:")
	fmt.Fprintf(buf, "    dead stores: %d\n", stats.NumDeadStores)
	fmt.Fprintf(buf, "    load-to-load forwards: %d\n", stats.NumLoadLoadForwards)
	fmt.Fprintf(buf, "    store-to-load forwards: %d\n", stats.NumStoreLoadForwards)
	fmt.Fprintln(buf, "  deletion stats:")
	fmt.Fprintf(buf, "    directly deleted: %d\n", stats.NumDeleted)
	fmt.Fprintf(buf, "    pre-opt num instructions: %d\n", stats.NumInstsPreOpt)
	fmt.Fprintf(buf, "    post-opt num instructions: %d", stats.NumInstsPostOpt)
	return buf.String()
}
