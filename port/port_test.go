package port_test

import (
	"testing"
	"time"

	"github.com/jetperch/fbp/evm"
	"github.com/jetperch/fbp/fsm"
	"github.com/jetperch/fbp/port"
	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/transport"
	"github.com/jetperch/fbp/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSource() topic.Source {
	return topic.Source{Cbk: func(ctx any, path string, v value.Value) error { return nil }, Ctx: new(int)}
}

func waitForState(t *testing.T, p *port.Port, want fsm.StateID, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("port did not reach state %v within %v (last state %v)", want, timeout, p.State())
}

// TestPortConvergence is spec.md §8 scenario 4: two engines connected over a
// Memory transport pair reach Connected and converge on the upstream's
// retained value.
func TestPortConvergence(t *testing.T) {
	up := pubsub.New("h/", 4096)
	down := pubsub.New("d/", 4096)

	require.NoError(t, up.Publish("h/v", value.U32(5, value.Retain), noopSource()))
	require.NoError(t, up.Process())

	trUp, trDown := transport.NewMemoryPair()
	clockUp, clockDown := evm.NewWheel(), evm.NewWheel()

	pUp := port.New(port.RoleUpstream, 0, up, trUp, clockUp)
	pDown := port.New(port.RoleDownstream, 0, down, trDown, clockDown)

	pUp.Connect()
	pDown.Connect()

	waitForState(t, pUp, port.StateConnected, 2*time.Second)
	waitForState(t, pDown, port.StateConnected, 2*time.Second)

	v, err := down.Query("h/v")
	require.NoError(t, err)
	n, err := v.AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

// TestPortDisconnectResetsToDisconnected confirms Disconnect drives the FSM
// back to Disconnected even after reaching Connected.
func TestPortDisconnectResetsToDisconnected(t *testing.T) {
	up := pubsub.New("h/", 4096)
	down := pubsub.New("d/", 4096)

	trUp, trDown := transport.NewMemoryPair()
	clockUp, clockDown := evm.NewWheel(), evm.NewWheel()

	pUp := port.New(port.RoleUpstream, 0, up, trUp, clockUp)
	pDown := port.New(port.RoleDownstream, 0, down, trDown, clockDown)

	pUp.Connect()
	pDown.Connect()
	waitForState(t, pUp, port.StateConnected, 2*time.Second)

	pUp.Disconnect()
	waitForState(t, pUp, port.StateDisconnected, time.Second)
}
