package wave

import "sync"

// span is an inclusive column range of one row.
type span struct{ start, end int }

// rowMask lists the columns of row y that a tick computes.
type rowMask struct {
	y     int
	spans []span
}

// workerMask collects the rows assigned to one worker goroutine.
type workerMask struct {
	rows []rowMask
}

// interiorRows returns one mask per interior row covering columns
// 1..cols-2. Boundary rows and columns are never part of a mask.
func interiorRows(rows, cols int) []rowMask {
	masks := make([]rowMask, 0, rows-2)
	for y := 1; y < rows-1; y++ {
		masks = append(masks, rowMask{y: y, spans: []span{{start: 1, end: cols - 2}}})
	}
	return masks
}

// assignRowMasks distributes rows across workers round robin so that each
// worker touches rows spread over the whole grid.
func assignRowMasks(workerCount int, rows []rowMask) []workerMask {
	if workerCount < 1 {
		workerCount = 1
	}
	masks := make([]workerMask, workerCount)
	for idx, row := range rows {
		masks[idx%workerCount].rows = append(masks[idx%workerCount].rows, row)
	}
	return masks
}

// pool is a set of persistent goroutines that run one phase function over
// their masks per call to run. run is a fork-join: it returns once every
// worker has finished the phase.
type pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	masks   []workerMask
	phase   func(*workerMask)
	step    int
	pending int
	closed  bool
	wg      sync.WaitGroup
}

func newPool(workers int, rows []rowMask) *pool {
	p := &pool{masks: assignRowMasks(workers, rows)}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(len(p.masks))
	for i := range p.masks {
		go p.loop(i)
	}
	return p
}

func (p *pool) size() int { return len(p.masks) }

func (p *pool) loop(index int) {
	defer p.wg.Done()
	lastStep := 0
	p.mu.Lock()
	for {
		for p.step == lastStep && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		lastStep = p.step
		phase := p.phase
		mask := &p.masks[index]
		p.mu.Unlock()

		if len(mask.rows) > 0 {
			phase(mask)
		}

		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.cond.Broadcast()
		}
	}
}

// run executes phase on every worker and waits for all of them.
func (p *pool) run(phase func(*workerMask)) {
	p.mu.Lock()
	p.phase = phase
	p.pending = len(p.masks)
	p.step++
	p.cond.Broadcast()
	for p.pending > 0 {
		p.cond.Wait()
	}
	p.phase = nil
	p.mu.Unlock()
}

// close stops the workers. run must not be called afterwards.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// stepRows applies the update rule to every cell of the mask, reading
// prev and curr and writing next.
func stepRows(f *Field, k Coefficients, mask *workerMask) {
	width := f.Cols
	k1, k2, k3 := k.K1, k.K2, k.K3
	for _, row := range mask.rows {
		base := row.y * width
		center := f.curr[base : base+width]
		prev := f.prev[base : base+width]
		top := f.curr[base-width : base]
		bottom := f.curr[base+width : base+2*width]
		next := f.next[base : base+width]

		for _, sp := range row.spans {
			x := sp.start
			for ; x+3 <= sp.end; x += 4 {
				next[x] = k1*prev[x] + k2*center[x] + k3*(bottom[x]+top[x]+center[x+1]+center[x-1])

				x1 := x + 1
				next[x1] = k1*prev[x1] + k2*center[x1] + k3*(bottom[x1]+top[x1]+center[x1+1]+center[x1-1])

				x2 := x + 2
				next[x2] = k1*prev[x2] + k2*center[x2] + k3*(bottom[x2]+top[x2]+center[x2+1]+center[x2-1])

				x3 := x + 3
				next[x3] = k1*prev[x3] + k2*center[x3] + k3*(bottom[x3]+top[x3]+center[x3+1]+center[x3-1])
			}
			for ; x <= sp.end; x++ {
				next[x] = k1*prev[x] + k2*center[x] + k3*(bottom[x]+top[x]+center[x+1]+center[x-1])
			}
		}
	}
}
