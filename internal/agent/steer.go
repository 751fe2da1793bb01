package agent

// SteerCommandType is the instruction kind queued by steer() (§4.1/§5).
type SteerCommandType string

const (
	// SteerCancel aborts the run at the next safe point.
	SteerCancel SteerCommandType = "cancel"
	// SteerInterrupt pauses the run with a checkpoint at the next safe point.
	SteerInterrupt SteerCommandType = "interrupt"
)

// SteerCommand is one queued instruction for a running execution.
type SteerCommand struct {
	Type   SteerCommandType
	Reason string
}

// SteerQueue buffers steer commands for one execution, drained by the
// executor loop between tool completions so a half-applied tool batch is
// never observed (§5).
type SteerQueue struct {
	ch chan SteerCommand
}

// NewSteerQueue creates a queue with reasonable headroom; steer commands are
// rare and the loop drains it frequently.
func NewSteerQueue() *SteerQueue {
	return &SteerQueue{ch: make(chan SteerCommand, 16)}
}

// Push enqueues a command. Non-blocking: a full queue drops the oldest
// intent in favor of the newest (steer commands are idempotent in effect —
// cancel/interrupt either happened or didn't).
func (q *SteerQueue) Push(cmd SteerCommand) {
	select {
	case q.ch <- cmd:
	default:
		select {
		case <-q.ch:
		default:
		}
		select {
		case q.ch <- cmd:
		default:
		}
	}
}

// DrainOne returns the next queued command, if any, without blocking.
func (q *SteerQueue) DrainOne() (SteerCommand, bool) {
	select {
	case cmd := <-q.ch:
		return cmd, true
	default:
		return SteerCommand{}, false
	}
}

// DrainAll returns every currently queued command in FIFO order.
func (q *SteerQueue) DrainAll() []SteerCommand {
	var cmds []SteerCommand
	for {
		cmd, ok := q.DrainOne()
		if !ok {
			return cmds
		}
		cmds = append(cmds, cmd)
	}
}
