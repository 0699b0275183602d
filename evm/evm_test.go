package evm_test

import (
	"testing"
	"time"

	"github.com/jetperch/fbp/evm"
	"github.com/stretchr/testify/assert"
)

func TestScheduleFiresAfterDelay(t *testing.T) {
	w := evm.NewWheel()
	done := make(chan struct{})
	w.Schedule(w.Timestamp()+1<<20, func(ctx any) { close(done) }, nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestCancelPreventsFire(t *testing.T) {
	w := evm.NewWheel()
	fired := false
	id := w.Schedule(w.Timestamp()+(1<<30)/4, func(ctx any) { fired = true }, nil)
	w.Cancel(id)

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired)
}
