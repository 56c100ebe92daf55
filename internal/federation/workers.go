package federation

import "sync"

// remoteDeliveryWorkers bounds the number of remote inbox deliveries that
// may be in flight at once across every Deliver call, mirroring the
// teacher's internal/workers bounded-goroutine-pool idiom rather than
// spawning a goroutine per follower.
const remoteDeliveryWorkers = 8

// deliveryPool is a small fixed-size worker pool: submitted jobs queue up
// and run on whichever of the pool's goroutines frees up next.
type deliveryPool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// newDeliveryPool starts workers goroutines draining a shared job queue.
func newDeliveryPool(workers int) *deliveryPool {
	p := &deliveryPool{jobs: make(chan func(), workers*4)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *deliveryPool) run() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// submit queues job, blocking if every worker is busy and the queue is full.
// That backpressure is the bound: a node with many remote followers cannot
// spawn unbounded concurrent deliveries.
func (p *deliveryPool) submit(job func()) {
	p.jobs <- job
}
