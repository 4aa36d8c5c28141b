package commandqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/harun/cmdq/internal/observability"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// QueueEventType names the structural change behind a QueueEvent
type QueueEventType string

const (
	QueueAdded          QueueEventType = "added"
	QueueRemoved        QueueEventType = "removed"
	QueueHeadRemoved    QueueEventType = "headRemoved"
	QueueMoved          QueueEventType = "moved"
	QueueReplaced       QueueEventType = "replaced"
	QueueDetailsChanged QueueEventType = "detailsChanged"
)

// QueueEvent is published once for every successful queue mutation
type QueueEvent struct {
	Seq  uint64         `json:"seq"`
	Type QueueEventType `json:"type"`
	IDs  []CommandID    `json:"ids"`
	Size int            `json:"size"`
	Time time.Time      `json:"time"`
}

type entry struct {
	id  CommandID
	cmd Command
}

// Queue is an ordered, reorderable collection of commands. All methods
// are safe for concurrent use; observers run after the internal lock has
// been released.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	seq     uint64
	subject Subject[QueueEvent]
}

// New creates an empty queue
func New() *Queue {
	observability.EnsureRegistered()
	return &Queue{}
}

// AddObserver subscribes to queue events
func (q *Queue) AddObserver(o Observer[QueueEvent]) Handle {
	return q.subject.AddObserver(o)
}

// RemoveObserver cancels a subscription
func (q *Queue) RemoveObserver(h Handle) {
	q.subject.RemoveObserver(h)
}

// AddToTail appends cmd and returns the id minted for it
func (q *Queue) AddToTail(cmd Command) (CommandID, error) {
	if cmd == nil {
		return "", ErrNilCommand
	}
	if state := cmd.State(); state != StateNotStarted {
		return "", fmt.Errorf("add command in state %s: %w", state, ErrCommandStarted)
	}

	id, err := newCommandID()
	if err != nil {
		return "", fmt.Errorf("mint command id: %w", err)
	}

	q.mu.Lock()
	q.entries = append(q.entries, entry{id: id, cmd: cmd})
	ev := q.eventLocked(QueueAdded, id)
	q.mu.Unlock()

	log.Debug().
		Str("commandId", string(id)).
		Str("description", cmd.Description()).
		Int("queueSize", ev.Size).
		Msg("Command queued")

	q.publish(ev)
	return id, nil
}

// RemoveHead takes the first entry off the queue
func (q *Queue) RemoveHead() (CommandID, Command, error) {
	id, cmd, ev, err := q.takeHead()
	if err != nil {
		return "", nil, err
	}
	q.publish(ev)
	return id, cmd, nil
}

// takeHead dequeues without notifying. The processor calls it under its
// own lock and publishes the returned event once that lock is released.
func (q *Queue) takeHead() (CommandID, Command, QueueEvent, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return "", nil, QueueEvent{}, ErrQueueEmpty
	}
	head := q.entries[0]
	q.entries[0] = entry{}
	q.entries = q.entries[1:]
	return head.id, head.cmd, q.eventLocked(QueueHeadRemoved, head.id), nil
}

// Remove deletes the entry named by id
func (q *Queue) Remove(id CommandID) error {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	ev := q.eventLocked(QueueRemoved, id)
	q.mu.Unlock()

	log.Debug().Str("commandId", string(id)).Int("queueSize", ev.Size).Msg("Command removed")
	q.publish(ev)
	return nil
}

// MoveToBefore moves ids, in their current queue order, to sit
// immediately before target. Duplicate ids are collapsed.
func (q *Queue) MoveToBefore(target CommandID, ids []CommandID) error {
	q.mu.Lock()
	if q.indexLocked(target) < 0 {
		q.mu.Unlock()
		return fmt.Errorf("move before %s: %w", target, ErrNotFound)
	}
	set, err := q.moveSetLocked(ids)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("move before %s: %w", target, err)
	}
	if _, ok := set[target]; ok {
		q.mu.Unlock()
		return fmt.Errorf("move before %s: %w", target, ErrInvalidMove)
	}

	moved, rest := q.partitionLocked(set)
	at := 0
	for i, e := range rest {
		if e.id == target {
			at = i
			break
		}
	}
	reordered := make([]entry, 0, len(q.entries))
	reordered = append(reordered, rest[:at]...)
	reordered = append(reordered, moved...)
	reordered = append(reordered, rest[at:]...)
	q.entries = reordered
	ev := q.eventLocked(QueueMoved, entryIDs(moved)...)
	q.mu.Unlock()

	log.Debug().Str("target", string(target)).Int("moved", len(moved)).Msg("Commands moved")
	q.publish(ev)
	return nil
}

// MoveToTail moves ids, in their current queue order, to the end
func (q *Queue) MoveToTail(ids []CommandID) error {
	q.mu.Lock()
	set, err := q.moveSetLocked(ids)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("move to tail: %w", err)
	}

	moved, rest := q.partitionLocked(set)
	q.entries = append(rest, moved...)
	ev := q.eventLocked(QueueMoved, entryIDs(moved)...)
	q.mu.Unlock()

	log.Debug().Int("moved", len(moved)).Msg("Commands moved to tail")
	q.publish(ev)
	return nil
}

// Replace substitutes the command behind id, keeping id and position
func (q *Queue) Replace(id CommandID, cmd Command) error {
	if cmd == nil {
		return ErrNilCommand
	}
	if state := cmd.State(); state != StateNotStarted {
		return fmt.Errorf("replace %s with command in state %s: %w", id, state, ErrCommandStarted)
	}

	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("replace %s: %w", id, ErrNotFound)
	}
	if state := q.entries[i].cmd.State(); state != StateNotStarted {
		q.mu.Unlock()
		return fmt.Errorf("replace %s in state %s: %w", id, state, ErrCommandStarted)
	}
	q.entries[i].cmd = cmd
	ev := q.eventLocked(QueueReplaced, id)
	q.mu.Unlock()

	log.Debug().Str("commandId", string(id)).Str("description", cmd.Description()).Msg("Command replaced")
	q.publish(ev)
	return nil
}

// SetCommandDetails edits the details of a queued command that has not started
func (q *Queue) SetCommandDetails(id CommandID, d Details) error {
	q.mu.Lock()
	i := q.indexLocked(id)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("set details %s: %w", id, ErrNotFound)
	}
	if err := q.entries[i].cmd.SetDetails(d); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("set details %s: %w", id, err)
	}
	ev := q.eventLocked(QueueDetailsChanged, id)
	q.mu.Unlock()

	q.publish(ev)
	return nil
}

// SummaryList returns an ordered snapshot of the queue
func (q *Queue) SummaryList() []QueuedCommandSummary {
	q.mu.Lock()
	defer q.mu.Unlock()

	list := make([]QueuedCommandSummary, len(q.entries))
	for i, e := range q.entries {
		list[i] = QueuedCommandSummary{ID: e.id, Summary: e.cmd.Summary()}
	}
	return list
}

// CommandSummary returns the summary of the command behind id
func (q *Queue) CommandSummary(id CommandID) (Summary, error) {
	cmd, err := q.lookup(id)
	if err != nil {
		return Summary{}, err
	}
	return cmd.Summary(), nil
}

// CommandDetails returns the details of the command behind id
func (q *Queue) CommandDetails(id CommandID) (Details, error) {
	cmd, err := q.lookup(id)
	if err != nil {
		return Details{}, err
	}
	return cmd.Details()
}

// Len returns the number of queued entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Contains reports whether id names a queued entry
func (q *Queue) Contains(id CommandID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(id) >= 0
}

func (q *Queue) lookup(id CommandID) (Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	return q.entries[i].cmd, nil
}

func (q *Queue) indexLocked(id CommandID) int {
	for i, e := range q.entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// moveSetLocked validates a move set: every id must be queued and not
// yet started
func (q *Queue) moveSetLocked(ids []CommandID) (map[CommandID]struct{}, error) {
	set := make(map[CommandID]struct{}, len(ids))
	for _, id := range ids {
		i := q.indexLocked(id)
		if i < 0 {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		if state := q.entries[i].cmd.State(); state != StateNotStarted {
			return nil, fmt.Errorf("%s in state %s: %w", id, state, ErrCommandStarted)
		}
		set[id] = struct{}{}
	}
	return set, nil
}

// partitionLocked splits the queue into the moved entries and the rest,
// both in queue order
func (q *Queue) partitionLocked(set map[CommandID]struct{}) (moved, rest []entry) {
	moved = make([]entry, 0, len(set))
	rest = make([]entry, 0, len(q.entries)-len(set))
	for _, e := range q.entries {
		if _, ok := set[e.id]; ok {
			moved = append(moved, e)
		} else {
			rest = append(rest, e)
		}
	}
	return moved, rest
}

func (q *Queue) eventLocked(t QueueEventType, ids ...CommandID) QueueEvent {
	q.seq++
	return QueueEvent{
		Seq:  q.seq,
		Type: t,
		IDs:  ids,
		Size: len(q.entries),
		Time: time.Now(),
	}
}

func (q *Queue) publish(ev QueueEvent) {
	observability.RecordQueueMutation(string(ev.Type), ev.Size)
	q.subject.Notify(q, ev)
}

func entryIDs(entries []entry) []CommandID {
	ids := make([]CommandID, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

func newCommandID() (CommandID, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", err
	}
	return CommandID(id), nil
}
