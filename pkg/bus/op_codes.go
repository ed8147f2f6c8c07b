package bus

// Op codes prefix every payload relayed over Redis so a subscriber can tell
// which bus a frame belongs to before decoding it.
const (
	OpInteraction         uint8 = 1
	OpConversationUpdated uint8 = 2
)
