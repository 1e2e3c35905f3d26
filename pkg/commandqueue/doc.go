// Package commandqueue provides lane-based turn execution with FIFO ordering per lane.
//
// Invariants:
// - Turns in the same conversation lane execute in FIFO order, one at a time.
// - Turns in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
//
// Usage:
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	result, err := queue.Enqueue(commandqueue.ConversationLane("abc"), func(ctx context.Context) (interface{}, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
