package pool

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPoolClosed = errors.New("pool closed")
)

type Job func() error

// Pool runs jobs on a fixed set of workers. A pool with a single worker runs
// every job to completion before starting the next one.
type Pool struct {
	jobs chan chan Job
	quit chan struct{}
	once sync.Once
}

// Call runs job on the next free worker and waits for its result. It must not
// be called from inside a job of the same single-worker pool.
func (a *Pool) Call(job Job) error {
	var worker chan Job
	select {
	case <-a.quit:
		return ErrPoolClosed
	default:
	}
	select {
	case <-a.quit:
		return ErrPoolClosed
	case worker = <-a.jobs:
	}
	done := make(chan error, 1)
	worker <- func() error {
		err := run(job)
		done <- err
		return err
	}
	select {
	case err := <-done:
		return err
	case <-a.quit:
		return ErrPoolClosed
	}
}

func (a *Pool) Cancel() {
	a.once.Do(func() {
		close(a.quit)
	})
}

func run(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job()
}

func NewPool(count int) *Pool {
	c := &Pool{
		jobs: make(chan chan Job),
		quit: make(chan struct{}),
	}

	for i := 0; i < count; i++ {
		go func() {
			jobs := make(chan Job, 1)
			for {
				select {
				case <-c.quit:
					return
				case c.jobs <- jobs:
				}

				job := <-jobs
				job()
			}
		}()
	}
	return c
}
