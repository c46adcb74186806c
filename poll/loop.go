package poll

import ("time"

	"zwavehost/queue")

// Awake reports whether a node is currently reachable without a wake-up
// handoff (step 5: "If the target node is awake (or
// listening)"). The driver implements it with pollAwaiter, on top of
// its node table.
type Awake interface {
	IsListening(nodeID byte) bool
	IsAwake(nodeID byte) bool
}

// StarvationWarner is called once per starvation episode that exceeds
// StarvationWarnAfter (step 6: "log a warning after 300 s of
// starvation").
type StarvationWarner func(waited time.Duration)

// Config bounds the poll loop's timing ("PollInterval",
// "IntervalBetweenPolls").
type Config struct {
	IdleWait time.Duration
	Interval time.Duration
	IntervalBetweenPolls bool
	SpinStep time.Duration
	StarvationWarnAfter time.Duration
}

// DefaultConfig() matches its literal step timings.
func DefaultConfig(interval time.Duration) Config {
	return Config{
		IdleWait: 500 * time.Millisecond,
		Interval: interval,
		SpinStep: 10 * time.Millisecond,
		StarvationWarnAfter: 300 * time.Second,
	}
}

// Loop is the poll thread ("Poll thread"). It owns no
// goroutine itself; Run drives it until stop is closed.
type Loop struct {
	cfg Config
	list *List
	sched *queue.Scheduler
	awake Awake
	warn StarvationWarner

	awakeNodesQueried func() bool
}

// starvationPriorities are the queues polling must not starve.
var starvationPriorities = []queue.Priority{queue.Command, queue.Send, queue.Query, queue.Poll}

// NewLoop creates a poll Loop. warn may be nil.
func NewLoop(cfg Config, list *List, sched *queue.Scheduler, awake Awake, awakeNodesQueried func() bool, warn StarvationWarner) *Loop {
	return &Loop{cfg: cfg, list: list, sched: sched, awake: awake, awakeNodesQueried: awakeNodesQueried, warn: warn}
}

// Run executes the poll loop until stop is closed.
func (l *Loop) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		if !l.awakeNodesQueried() || l.list.Len() == 0 {
			if !sleepOrStop(l.cfg.IdleWait, stop) {
				return
			}
			continue
		}

		entry, ok := l.list.Next()
		if !ok {
			if !sleepOrStop(l.cfg.IdleWait, stop) {
				return
			}
			continue
		}

		if l.awake.IsListening(entry.ID.NodeID) || l.awake.IsAwake(entry.ID.NodeID) {
			l.sched.Enqueue(queue.Poll, queue.PollValue(entry.ID))
		}
		// Asleep targets: the driver's wake-up CC wiring (outside this
		// package) is responsible for flagging "poll required" so the
		// next beam enqueues a refresh; Loop itself only decides whether
		// to enqueue now.

		if !l.waitForFairness(stop) {
			return
		}

		interval := l.cfg.Interval
		if !l.cfg.IntervalBetweenPolls {
			if n := l.list.Len(); n > 0 {
				interval = interval / time.Duration(n)
			}
		}
		if !sleepOrStop(interval, stop) {
			return
		}
	}
}

// waitForFairness spin-waits until Command/Send/Query/Poll are all empty
// so background polling never starves foreground traffic. Returns false
// if stop fired while waiting.
func (l *Loop) waitForFairness(stop <-chan struct{}) bool {
	start := time.Now()
	warned := false
	for !l.sched.Empty(starvationPriorities...) {
		if !warned && l.warn != nil && time.Since(start) > l.cfg.StarvationWarnAfter {
			l.warn(time.Since(start))
			warned = true
		}
		if !sleepOrStop(l.cfg.SpinStep, stop) {
			return false
		}
	}
	return true
}

func sleepOrStop(d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
