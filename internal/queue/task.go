// Package queue is a de-duplicating, leasing FIFO of indexing tasks.
//
// A WorkQueue adds clamped timing policy on top of a Store. Stores perform
// each multi-step mutation atomically so several processes may share one
// queue.
package queue

import (
	"strconv"
	"strings"

	zerrors "github.com/zenoss/zenoss-zep-sub000/internal/errors"
)

// Op is the kind of work a Task asks for.
type Op string

const (
	OpFlush      Op = "FLUSH"
	OpIndexEvent Op = "INDEX_EVENT"
	OpUnknown    Op = "UNKNOWN"
)

// ErrInvalidTask is returned for a task string that cannot be parsed.
var ErrInvalidTask = zerrors.New(zerrors.ErrCodeInvalidTask, "invalid task", nil)

// Task is a unit of deferred work. Two tasks are the same task when their
// serialized forms are equal.
type Task struct {
	Op       Op
	UUID     string
	LastSeen int64

	// raw keeps the wire form of tasks with an op this build does not know,
	// so they can still be completed.
	raw string
}

// FlushTask asks the backend to make pending writes visible.
func FlushTask() Task {
	return Task{Op: OpFlush}
}

// IndexTask asks the backend to (re)index one event.
func IndexTask(uuid string, lastSeen int64) Task {
	return Task{Op: OpIndexEvent, UUID: uuid, LastSeen: lastSeen}
}

// String is the wire form, e.g. "op:INDEX_EVENT,uuid:u1,lastSeen:42".
func (t Task) String() string {
	if t.raw != "" {
		return t.raw
	}
	switch t.Op {
	case OpIndexEvent:
		return "op:INDEX_EVENT,uuid:" + t.UUID + ",lastSeen:" + strconv.FormatInt(t.LastSeen, 10)
	default:
		return "op:" + string(t.Op)
	}
}

// ParseTask reads the wire form produced by String.
func ParseTask(s string) (Task, error) {
	fields := make(map[string]string, 3)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" {
			return Task{}, zerrors.Newf(zerrors.ErrCodeInvalidTask, "invalid task %q", s)
		}
		fields[k] = v
	}

	op, ok := fields["op"]
	if !ok || op == "" {
		return Task{}, zerrors.Newf(zerrors.ErrCodeInvalidTask, "task without op: %q", s)
	}
	switch Op(op) {
	case OpFlush:
		return FlushTask(), nil
	case OpIndexEvent:
		uuid := fields["uuid"]
		if uuid == "" {
			return Task{}, zerrors.Newf(zerrors.ErrCodeInvalidTask, "index task without uuid: %q", s)
		}
		lastSeen, err := strconv.ParseInt(fields["lastSeen"], 10, 64)
		if err != nil {
			return Task{}, zerrors.New(zerrors.ErrCodeInvalidTask, "index task with bad lastSeen: "+s, err)
		}
		return IndexTask(uuid, lastSeen), nil
	default:
		return Task{Op: OpUnknown, raw: s}, nil
	}
}

func taskStrings(tasks []Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.String()
	}
	return out
}
