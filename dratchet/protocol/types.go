package protocol

type MessageType uint8

const (
	MessageTypeBundle   MessageType = 1
	MessageTypeInit     MessageType = 2
	MessageTypeEnvelope MessageType = 3
	MessageTypeClose    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeBundle:
		return "BUNDLE"
	case MessageTypeInit:
		return "INIT"
	case MessageTypeEnvelope:
		return "ENVELOPE"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

func (t MessageType) valid() bool {
	return t >= MessageTypeBundle && t <= MessageTypeClose
}
