// Package commandqueue provides an ordered, reorderable command queue and
// a single-worker processor that executes its entries one at a time.
//
// Invariants:
// - Queue order is execution order; ids are unique and survive reordering.
// - Every successful queue mutation publishes exactly one QueueEvent.
// - A processor holds at most one current command.
// - Pause and abort are cooperative; a parked command resumes only through Start.
//
// Usage:
//
//	q := commandqueue.New()
//	p := commandqueue.NewProcessor(q)
//	defer p.Close(context.Background())
//	id, err := q.AddToTail(cmd)
//	err = p.Start(time.Second)
package commandqueue
