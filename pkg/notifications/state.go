package notifications

import "encoding/json"

// ReadState is the unread marker of one roster entry. A later event can move
// it from Read to Unread through Merge, but only Settle moves it back.
type ReadState uint8

const (
	Read ReadState = iota
	Unread
)

func stateOf(unread bool) ReadState {
	if unread {
		return Unread
	}
	return Read
}

// Merge OR-accumulates: once unread, an entry stays unread until settled.
func (s ReadState) Merge(incoming ReadState) ReadState {
	if s == Unread || incoming == Unread {
		return Unread
	}
	return Read
}

// Settle is the only transition from Unread to Read.
func (s ReadState) Settle() ReadState {
	return Read
}

func (s ReadState) IsUnread() bool {
	return s == Unread
}

func (s ReadState) String() string {
	if s == Unread {
		return "unread"
	}
	return "read"
}

func (s ReadState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ReadState) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = stateOf(str == "unread")
	return nil
}
