package protocol

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	Terminal = []byte("\r\n")

	pingLine = []byte("PING\r\n")
	pongLine = []byte("PONG\r\n")
)

// AppendConnect appends `CONNECT <json>\r\n` to dst.
func AppendConnect(dst []byte, opts ConnectOptions) ([]byte, error) {
	body, err := opts.Marshal()
	if err != nil {
		return dst, err
	}

	dst = append(dst, VerbConnect...)
	dst = append(dst, ' ')
	dst = append(dst, body...)

	return append(dst, Terminal...), nil
}

// AppendPub appends `PUB <subject> [<reply-to>] <#bytes>\r\n<payload>\r\n`.
// The byte count always comes from len(payload).
func AppendPub(dst []byte, subject, replyTo string, payload []byte) []byte {
	dst = append(dst, VerbPub...)
	return appendPayloadFrame(dst, subject, "", replyTo, payload)
}

// AppendMsg appends a server side MSG frame. Clients never send these, it
// exists for test servers and tooling.
func AppendMsg(dst []byte, subject, sid, replyTo string, payload []byte) []byte {
	dst = append(dst, VerbMsg...)
	return appendPayloadFrame(dst, subject, sid, replyTo, payload)
}

func appendPayloadFrame(dst []byte, subject, sid, replyTo string, payload []byte) []byte {
	dst = append(dst, ' ')
	dst = append(dst, subject...)

	if sid != "" {
		dst = append(dst, ' ')
		dst = append(dst, sid...)
	}

	if replyTo != "" {
		dst = append(dst, ' ')
		dst = append(dst, replyTo...)
	}

	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, Terminal...)
	dst = append(dst, payload...)

	return append(dst, Terminal...)
}

// AppendSub appends `SUB <subject> [<queue-group>] <sid>\r\n`.
func AppendSub(dst []byte, subject, queueGroup, sid string) []byte {
	dst = append(dst, VerbSub...)
	dst = append(dst, ' ')
	dst = append(dst, subject...)

	if queueGroup != "" {
		dst = append(dst, ' ')
		dst = append(dst, queueGroup...)
	}

	dst = append(dst, ' ')
	dst = append(dst, sid...)

	return append(dst, Terminal...)
}

// AppendUnsub appends `UNSUB <sid> [<max-msgs>]\r\n`. maxMsgs <= 0 means
// unsubscribe immediately.
func AppendUnsub(dst []byte, sid string, maxMsgs int) []byte {
	dst = append(dst, VerbUnsub...)
	dst = append(dst, ' ')
	dst = append(dst, sid...)

	if maxMsgs > 0 {
		dst = append(dst, ' ')
		dst = strconv.AppendInt(dst, int64(maxMsgs), 10)
	}

	return append(dst, Terminal...)
}

func AppendPing(dst []byte) []byte {
	return append(dst, pingLine...)
}

func AppendPong(dst []byte) []byte {
	return append(dst, pongLine...)
}

func WriteConnect(w io.Writer, opts ConnectOptions) error {
	b, err := AppendConnect(nil, opts)
	if err != nil {
		return err
	}

	_, err = w.Write(b)
	return err
}

func WritePub(w io.Writer, subject, replyTo string, payload []byte) error {
	_, err := w.Write(AppendPub(nil, subject, replyTo, payload))
	return err
}

func WriteSub(w io.Writer, subject, queueGroup, sid string) error {
	_, err := w.Write(AppendSub(nil, subject, queueGroup, sid))
	return err
}

func WriteUnsub(w io.Writer, sid string, maxMsgs int) error {
	_, err := w.Write(AppendUnsub(nil, sid, maxMsgs))
	return err
}

func WritePing(w io.Writer) error {
	_, err := w.Write(pingLine)
	return err
}

func WritePong(w io.Writer) error {
	_, err := w.Write(pongLine)
	return err
}

// ValidateSubject rejects subjects that would break the control line they
// are written into.
func ValidateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("empty subject: %w", ErrInvalidSubject)
	}

	if strings.ContainsAny(subject, " \t\r\n") {
		return fmt.Errorf("Subject '%s' contains whitespace: %w", subject, ErrInvalidSubject)
	}

	return nil
}

// ValidateToken is ValidateSubject for optional tokens such as reply
// subjects and queue groups, where empty means absent.
func ValidateToken(token string) error {
	if token == "" {
		return nil
	}

	return ValidateSubject(token)
}
