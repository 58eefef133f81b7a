package remotedata

import "fmt"

// Tag identifies which state a RemoteData value is in.
type Tag int

const (
	TagNotAsked Tag = iota
	TagLoading
	TagSuccess
	TagFailed
)

func (t Tag) String() string {
	switch t {
	case TagNotAsked:
		return "NotAsked"
	case TagLoading:
		return "Loading"
	case TagSuccess:
		return "Success"
	case TagFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// RemoteData is the state of a single cache slot. The zero value is NotAsked.
//
// Within one fetch the state moves NotAsked -> Loading -> Success|Failed. A
// later fetch may re-enter Loading, or leave the previous value visible while
// it runs; which one happens is decided by the manager that owns the slot.
type RemoteData[T any] struct {
	tag   Tag
	value T
	err   string
}

func NotAsked[T any]() RemoteData[T] {
	return RemoteData[T]{tag: TagNotAsked}
}

func Loading[T any]() RemoteData[T] {
	return RemoteData[T]{tag: TagLoading}
}

func Success[T any](value T) RemoteData[T] {
	return RemoteData[T]{tag: TagSuccess, value: value}
}

func Failed[T any](message string) RemoteData[T] {
	return RemoteData[T]{tag: TagFailed, err: message}
}

// FromResult converts the usual Go (value, error) pair into an entry. Errors
// are kept as their message only: entries are displayed, not inspected.
func FromResult[T any](value T, err error) RemoteData[T] {
	if err != nil {
		return Failed[T](err.Error())
	}
	return Success(value)
}

func (r RemoteData[T]) Tag() Tag {
	return r.tag
}

func (r RemoteData[T]) IsNotAsked() bool {
	return r.tag == TagNotAsked
}

func (r RemoteData[T]) IsLoading() bool {
	return r.tag == TagLoading
}

// Value returns the success value, and whether the entry is a success.
func (r RemoteData[T]) Value() (T, bool) {
	if r.tag != TagSuccess {
		var zero T
		return zero, false
	}
	return r.value, true
}

// Failed returns the failure message, and whether the entry is a failure.
func (r RemoteData[T]) Failed() (string, bool) {
	if r.tag != TagFailed {
		return "", false
	}
	return r.err, true
}

func (r RemoteData[T]) String() string {
	switch r.tag {
	case TagSuccess:
		return fmt.Sprintf("Success(%v)", r.value)
	case TagFailed:
		return fmt.Sprintf("Failed(%s)", r.err)
	default:
		return r.tag.String()
	}
}

// Map projects the success value. Other states pass through unchanged.
func Map[T, R any](r RemoteData[T], f func(T) R) RemoteData[R] {
	switch r.tag {
	case TagSuccess:
		return Success(f(r.value))
	case TagFailed:
		return Failed[R](r.err)
	case TagLoading:
		return Loading[R]()
	default:
		return NotAsked[R]()
	}
}
