package pipeline

import "sync"

// Pool — фиксированный набор воркеров с ограниченной очередью.
//
// Если очередь заполнена (или пул закрыт), Submit выполняет задачу
// в вызывающей горутине.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool запускает workers горутин с очередью на queueSize задач.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{jobs: make(chan func(), queueSize)}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *Pool) work() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Submit ставит задачу в очередь. Возвращает false, если задача
// была выполнена в вызывающей горутине.
func (p *Pool) Submit(job func()) bool {
	p.mu.RLock()
	if !p.closed {
		select {
		case p.jobs <- job:
			p.mu.RUnlock()
			return true
		default:
		}
	}
	p.mu.RUnlock()

	job()
	return false
}

// Close закрывает очередь и ждёт завершения воркеров.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
