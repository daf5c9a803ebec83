package protocol

// Kind identifies the type of a Frame received from the server.
type Kind uint8

const (
	KindUnrecognized Kind = iota
	KindInfo
	KindMsg
	KindPing
	KindPong
	KindOk
	KindErr
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "INFO"
	case KindMsg:
		return "MSG"
	case KindPing:
		return "PING"
	case KindPong:
		return "PONG"
	case KindOk:
		return "+OK"
	case KindErr:
		return "-ERR"
	default:
		return "UNRECOGNIZED"
	}
}

var (
	VerbInfo    = []byte("INFO")
	VerbMsg     = []byte("MSG")
	VerbPing    = []byte("PING")
	VerbPong    = []byte("PONG")
	VerbOk      = []byte("+OK")
	VerbErr     = []byte("-ERR")
	VerbConnect = []byte("CONNECT")
	VerbPub     = []byte("PUB")
	VerbSub     = []byte("SUB")
	VerbUnsub   = []byte("UNSUB")
)
