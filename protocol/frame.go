package protocol

// Frame is one complete unit received from the server. The set of
// implementations is closed, switch on Kind() or on the concrete type.
type Frame interface {
	Kind() Kind

	frame()
}

// Info is the server greeting. Settings holds the raw JSON blob, see
// ParseServerInfo.
type Info struct {
	Settings []byte
}

func (*Info) Kind() Kind { return KindInfo }
func (*Info) frame()     {}

// Msg is a message delivered for a subscription. ReplyTo is nil when the
// publisher did not ask for a reply.
type Msg struct {
	Subject []byte
	SID     []byte
	ReplyTo []byte
	Payload []byte
}

func (*Msg) Kind() Kind { return KindMsg }
func (*Msg) frame()     {}

type Ping struct{}

func (*Ping) Kind() Kind { return KindPing }
func (*Ping) frame()     {}

type Pong struct{}

func (*Pong) Kind() Kind { return KindPong }
func (*Pong) frame()     {}

// Ok acknowledges a command. Servers only send it to verbose clients.
type Ok struct{}

func (*Ok) Kind() Kind { return KindOk }
func (*Ok) frame()     {}

// ErrorFrame carries the text of a -ERR line, without surrounding quotes.
type ErrorFrame struct {
	Message []byte
}

func (*ErrorFrame) Kind() Kind { return KindErr }
func (*ErrorFrame) frame()     {}

// Unrecognized is any control line whose verb we don't know. Header is the
// whole line without its terminator.
type Unrecognized struct {
	Header []byte
}

func (*Unrecognized) Kind() Kind { return KindUnrecognized }
func (*Unrecognized) frame()     {}

var _ Frame = (*Info)(nil)
var _ Frame = (*Msg)(nil)
var _ Frame = (*Ping)(nil)
var _ Frame = (*Pong)(nil)
var _ Frame = (*Ok)(nil)
var _ Frame = (*ErrorFrame)(nil)
var _ Frame = (*Unrecognized)(nil)
