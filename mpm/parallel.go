package mpm

import (
	"runtime"
	"sync"

	"gonum.org/v1/gonum/blas/blas32"
)

// parallelThreshold is the minimum item count to dispatch to workers.
// Below this, inline execution is faster than goroutine handoff.
const parallelThreshold = 64

// accStride is the number of floats per cell in an accumulation buffer.
const accStride = 4

// workChunk is a contiguous range of items for one worker.
// slot selects the partial grid the chunk accumulates into, so results do
// not depend on which goroutine picks the chunk up.
type workChunk struct {
	start, end int
	slot       int
	fn         func(slot, start, end int)
}

// workerPool is a set of persistent goroutines reused across ticks.
type workerPool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	doneChan chan any       // workers signal completion, carrying any panic value
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &workerPool{numWorkers: workers}
}

// start launches the worker goroutines.
func (p *workerPool) start() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan any, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stop signals all workers to exit and waits for them.
func (p *workerPool) stop() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.doneChan <- p.exec(chunk)
		}
	}
}

// exec runs one chunk and returns whatever it panicked with.
func (p *workerPool) exec(chunk workChunk) (recovered any) {
	defer func() {
		recovered = recover()
	}()
	chunk.fn(chunk.slot, chunk.start, chunk.end)
	return nil
}

// chunks returns how many slots run(n) will use.
func (p *workerPool) chunks(n int) int {
	if n < parallelThreshold || p.numWorkers == 1 {
		return 1
	}
	size := (n + p.numWorkers - 1) / p.numWorkers
	return (n + size - 1) / size
}

// run splits [0, n) into contiguous chunks and blocks until all are done.
// It returns the number of slots used. A panic in any chunk is re-raised on
// the calling goroutine once every chunk has finished.
func (p *workerPool) run(n int, fn func(slot, start, end int)) int {
	if n == 0 {
		return 0
	}
	if n < parallelThreshold || p.numWorkers == 1 {
		fn(0, 0, n)
		return 1
	}

	if !p.running {
		p.start()
	}

	size := (n + p.numWorkers - 1) / p.numWorkers
	dispatched := 0
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		p.workChan <- workChunk{start: start, end: end, slot: dispatched, fn: fn}
		dispatched++
	}

	var failure any
	for i := 0; i < dispatched; i++ {
		if r := <-p.doneChan; r != nil && failure == nil {
			failure = r
		}
	}
	if failure != nil {
		panic(failure)
	}
	return dispatched
}

// reducePartials sums partials[1:used] into partials[0] in slot order.
func reducePartials(partials [][]float32, used int) {
	if used < 2 {
		return
	}
	dst := blas32.Vector{N: len(partials[0]), Inc: 1, Data: partials[0]}
	for w := 1; w < used; w++ {
		src := blas32.Vector{N: len(partials[w]), Inc: 1, Data: partials[w]}
		blas32.Axpy(1, src, dst)
	}
}
