package pool

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("call returns the job result", func(t *testing.T) {
		p := NewPool(1)
		defer p.Cancel()
		expected := errors.New("failed")
		require.NoError(t, p.Call(func() error { return nil }))
		require.Equal(t, expected, p.Call(func() error { return expected }))
	})
	t.Run("single worker serializes jobs", func(t *testing.T) {
		p := NewPool(1)
		defer p.Cancel()
		running := 0
		max := 0
		counter := 0
		wg := sync.WaitGroup{}
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.Call(func() error {
					running++
					if running > max {
						max = running
					}
					counter++
					running--
					return nil
				})
			}()
		}
		wg.Wait()
		require.Equal(t, 1, max)
		require.Equal(t, 50, counter)
	})
	t.Run("panics are returned as errors", func(t *testing.T) {
		p := NewPool(1)
		defer p.Cancel()
		err := p.Call(func() error { panic("boom") })
		require.Error(t, err)
		require.NoError(t, p.Call(func() error { return nil }))
	})
	t.Run("cancelled pool rejects calls", func(t *testing.T) {
		p := NewPool(2)
		p.Cancel()
		p.Cancel()
		require.Equal(t, ErrPoolClosed, p.Call(func() error { return nil }))
	})
}
