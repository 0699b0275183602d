package pubsub_test

import (
	"fmt"
	"testing"

	"github.com/cucumber/godog"
	"github.com/jetperch/fbp/pubsub"
	"github.com/jetperch/fbp/topic"
	"github.com/jetperch/fbp/value"
)

// pubsubBDDContext mirrors the teacher's per-scenario context struct
// (scheduler_module_bdd_test.go's SchedulerBDDTestContext): one struct
// holding everything a step needs, reset fresh per scenario.
type pubsubBDDContext struct {
	engine   *pubsub.Engine
	lastErr  error
	received []value.Value
}

func (c *pubsubBDDContext) reset() {
	c.engine = pubsub.New("h/", 4096)
	c.lastErr = nil
	c.received = nil
}

func (c *pubsubBDDContext) iHaveAFreshEngine() error {
	c.reset()
	return nil
}

func (c *pubsubBDDContext) iPublishARetainedU32ValueOfToTopic(n int, path string) error {
	src := topic.Source{Cbk: func(ctx any, p string, v value.Value) error { return nil }, Ctx: new(int)}
	c.lastErr = c.engine.Publish(path, value.U32(uint32(n), value.Retain), src)
	if c.lastErr != nil {
		return nil
	}
	c.lastErr = c.engine.Process()
	return nil
}

func (c *pubsubBDDContext) iSubscribeToWithRetain(path string) error {
	src := topic.Source{Cbk: func(ctx any, p string, v value.Value) error {
		c.received = append(c.received, v)
		return nil
	}, Ctx: new(int)}
	c.lastErr = c.engine.Subscribe(path, topic.Retain, src)
	return nil
}

func (c *pubsubBDDContext) theSubscriberShouldHaveReceivedExactlyValue() error {
	if len(c.received) != 1 {
		return fmt.Errorf("expected exactly 1 received value, got %d", len(c.received))
	}
	return nil
}

func (c *pubsubBDDContext) theReceivedValueShouldBe(n int) error {
	got, err := c.received[0].AsInt64()
	if err != nil {
		return err
	}
	if got != int64(n) {
		return fmt.Errorf("expected %d, got %d", n, got)
	}
	return nil
}

// TestPubSubRetainedReplayBDD runs features/retained_replay.feature, the
// spec.md §8 scenario 3 invariant expressed as a Gherkin scenario the way
// the teacher's *_module_bdd_test.go suites do.
func TestPubSubRetainedReplayBDD(t *testing.T) {
	bctx := &pubsubBDDContext{}
	suite := godog.TestSuite{
		ScenarioInitializer: func(s *godog.ScenarioContext) {
			s.Given(`^I have a fresh engine$`, bctx.iHaveAFreshEngine)
			s.Given(`^I publish a retained u32 value of (\d+) to topic "([^"]+)"$`, bctx.iPublishARetainedU32ValueOfToTopic)
			s.When(`^I subscribe to "([^"]+)" with Retain$`, bctx.iSubscribeToWithRetain)
			s.Then(`^the subscriber should have received exactly (\d+) value$`, func(n int) error {
				return bctx.theSubscriberShouldHaveReceivedExactlyValue()
			})
			s.Then(`^the received value should be (\d+)$`, bctx.theReceivedValueShouldBe)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/retained_replay.feature"},
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
	if bctx.lastErr != nil {
		t.Fatal(bctx.lastErr)
	}
}
