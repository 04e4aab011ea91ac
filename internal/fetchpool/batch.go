package fetchpool

// Batches splits handles into contiguous batches of ceil(N/workers) items.
// Every handle lands in exactly one batch and order is preserved; there are
// never more batches than workers.
func Batches(handles []string, workers int) [][]string {
	n := len(handles)
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers
	batches := make([][]string, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		batches = append(batches, handles[start:end:end])
	}
	return batches
}
