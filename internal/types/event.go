package types

import "fmt"

// EventKind tags a NavigationEvent.
type EventKind int

const (
	EventCompleted EventKind = iota + 1
	EventReplaced
	EventRemoved
	EventForceInject
)

func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "completed"
	case EventReplaced:
		return "replaced"
	case EventRemoved:
		return "removed"
	case EventForceInject:
		return "force_inject"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a tab lifecycle event. Which fields are meaningful depends on Kind:
//
//	Completed:   TabID, URL
//	Replaced:    TabID (old), NewTabID
//	Removed:     TabID
//	ForceInject: TabID
type Event struct {
	Kind     EventKind
	TabID    TabID
	NewTabID TabID
	URL      string
}

func Completed(id TabID, url string) Event { return Event{Kind: EventCompleted, TabID: id, URL: url} }
func Replaced(oldID, newID TabID) Event { return Event{Kind: EventReplaced, TabID: oldID, NewTabID: newID} }
func Removed(id TabID) Event { return Event{Kind: EventRemoved, TabID: id} }
func ForceInject(id TabID) Event { return Event{Kind: EventForceInject, TabID: id} }
