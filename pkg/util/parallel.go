package util

import (
	"runtime"
	"sync"
)

// parallelThreshold is the smallest input worth splitting across goroutines.
const parallelThreshold = 1 << 14

// ParallelFor splits [0, n) into contiguous chunks and calls fn once per chunk.
// Chunks never overlap, so fn may write to its own index range without locking.
// Small inputs run on the calling goroutine.
func ParallelFor(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	workers := runtime.NumCPU()
	if n < parallelThreshold || workers < 2 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			fn(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

// Chunks returns the [lo, hi) bounds ParallelFor-style splitting would use for n
// items across parts pieces.
func Chunks(n, parts int) [][2]int {
	if n <= 0 {
		return nil
	}
	if parts < 1 {
		parts = 1
	}
	chunk := (n + parts - 1) / parts
	ret := make([][2]int, 0, parts)
	for lo := 0; lo < n; lo += chunk {
		hi := lo + chunk
		if hi > n {
			hi = n
		}
		ret = append(ret, [2]int{lo, hi})
	}
	return ret
}
