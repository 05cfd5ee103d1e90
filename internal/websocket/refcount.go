package websocket

// Transition is the change in local interest for one room caused by a single
// join or leave, captured under the registry lock together with the mutation.
type Transition struct {
	Room   string
	Before int
	After  int
}

// FirstSubscriber reports a 0 -> n change: the room gained its first local
// member and needs an upstream subscription.
func (t Transition) FirstSubscriber() bool {
	return t.Before == 0 && t.After > 0
}

// LastUnsubscriber reports an n -> 0 change: the room lost its last local
// member and its upstream subscription can go.
func (t Transition) LastUnsubscriber() bool {
	return t.Before > 0 && t.After == 0
}

// Changed is false for no-op joins and leaves.
func (t Transition) Changed() bool {
	return t.Before != t.After
}

// InterestCounter reports how many local clients are joined to a room.
type InterestCounter interface {
	InterestCount(room string) int
}
