package enum

// ProtocolPath selects which wire protocol an entity operation uses.
type ProtocolPath string

const (
	ProtocolActiveSync ProtocolPath = "activesync"
	ProtocolEWS        ProtocolPath = "ews"
)

func (p ProtocolPath) String() string {
	return string(p)
}

type ConnectionStatus string

const (
	ConnectionActive    ConnectionStatus = "active"
	ConnectionNotActive ConnectionStatus = "not_active"
)

func (s ConnectionStatus) String() string {
	return string(s)
}
