package protocol_test

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/protocol"
)

// stream exercises every frame kind, a reply subject, an empty payload and a
// payload containing CR and LF bytes.
const stream = "INFO {\"server_id\":\"abc\",\"max_payload\":1048576}\r\n" +
	"+OK\r\n" +
	"MSG foo 1  11\r\nhello world\r\n" +
	"PING\r\n" +
	"MSG foo.bar 22 _INBOX.reply 6\r\na\r\nb\nc\r\n" +
	"PONG\r\n" +
	"MSG empty 3 0\r\n\r\n" +
	"WAT is this\r\n" +
	"-ERR 'Slow Consumer'\r\n"

func pushChunks(d *protocol.Decoder, chunks ...[]byte) ([]protocol.Frame, error) {
	var frames []protocol.Frame

	for _, chunk := range chunks {
		got, err := d.Push(chunk)
		frames = append(frames, got...)

		if err != nil {
			return frames, err
		}
	}

	return frames, nil
}

var _ = Describe("Decoder", func() {
	var d *protocol.Decoder

	BeforeEach(func() {
		d = protocol.NewDecoder(0)
	})

	It("decodes every frame kind in a single push", func() {
		frames, err := d.Push([]byte(stream))
		Expect(err).To(Succeed())

		Expect(frames).To(Equal([]protocol.Frame{
			&protocol.Info{Settings: []byte(`{"server_id":"abc","max_payload":1048576}`)},
			&protocol.Ok{},
			&protocol.Msg{Subject: []byte("foo"), SID: []byte("1"), Payload: []byte("hello world")},
			&protocol.Ping{},
			&protocol.Msg{
				Subject: []byte("foo.bar"),
				SID:     []byte("22"),
				ReplyTo: []byte("_INBOX.reply"),
				Payload: []byte("a\r\nb\nc"),
			},
			&protocol.Pong{},
			&protocol.Msg{Subject: []byte("empty"), SID: []byte("3"), Payload: []byte{}},
			&protocol.Unrecognized{Header: []byte("WAT is this")},
			&protocol.ErrorFrame{Message: []byte("Slow Consumer")},
		}))
		Expect(d.Buffered()).To(Equal(0))
	})

	It("yields the same frames for every two-way split of the stream", func() {
		whole, err := protocol.NewDecoder(0).Push([]byte(stream))
		Expect(err).To(Succeed())

		for i := 0; i <= len(stream); i++ {
			frames, err := pushChunks(protocol.NewDecoder(0), []byte(stream[:i]), []byte(stream[i:]))
			Expect(err).To(Succeed())
			Expect(frames).To(Equal(whole), "split at offset %d", i)
		}
	})

	It("yields the same frames when fed one byte at a time", func() {
		whole, err := protocol.NewDecoder(0).Push([]byte(stream))
		Expect(err).To(Succeed())

		var frames []protocol.Frame
		for i := 0; i < len(stream); i++ {
			got, err := d.Push([]byte{stream[i]})
			Expect(err).To(Succeed())
			frames = append(frames, got...)
		}

		Expect(frames).To(Equal(whole))
	})

	It("yields the same frames for every three-way split of a MSG", func() {
		msg := "MSG foo 1 _INBOX.x 5\r\nhello\r\n"
		want := []protocol.Frame{&protocol.Msg{
			Subject: []byte("foo"),
			SID:     []byte("1"),
			ReplyTo: []byte("_INBOX.x"),
			Payload: []byte("hello"),
		}}

		for i := 0; i <= len(msg); i++ {
			for j := i; j <= len(msg); j++ {
				frames, err := pushChunks(protocol.NewDecoder(0),
					[]byte(msg[:i]), []byte(msg[i:j]), []byte(msg[j:]))
				Expect(err).To(Succeed())
				Expect(frames).To(Equal(want), "split at %d and %d", i, j)
			}
		}
	})

	It("does not emit a MSG until the trailing CRLF arrives", func() {
		frames, err := d.Push([]byte("MSG foo 1 5\r\nhello\r"))
		Expect(err).To(Succeed())
		Expect(frames).To(BeEmpty())

		frames, err = d.Push([]byte("\n"))
		Expect(err).To(Succeed())
		Expect(frames).To(HaveLen(1))
		Expect(frames[0].Kind()).To(Equal(protocol.KindMsg))
	})

	It("keeps frames valid after the buffer is reused", func() {
		frames, err := d.Push([]byte("MSG foo 1 3\r\nabc\r\n"))
		Expect(err).To(Succeed())

		_, err = d.Push([]byte("MSG bar 2 3\r\nxyz\r\n"))
		Expect(err).To(Succeed())

		msg := frames[0].(*protocol.Msg)
		Expect(string(msg.Subject)).To(Equal("foo"))
		Expect(string(msg.Payload)).To(Equal("abc"))
	})

	It("accepts verbs in any case and bare LF terminators on control lines", func() {
		frames, err := d.Push([]byte("ping\npong\r\n"))
		Expect(err).To(Succeed())
		Expect(frames).To(Equal([]protocol.Frame{&protocol.Ping{}, &protocol.Pong{}}))
	})

	Describe("corruption", func() {
		It("fails when the payload is not followed by CRLF", func() {
			frames, err := d.Push([]byte("PING\r\nMSG foo 1 5\r\nhelloXY"))
			Expect(errors.Is(err, protocol.ErrFrameCorrupt)).To(BeTrue())
			Expect(frames).To(Equal([]protocol.Frame{&protocol.Ping{}}))
		})

		It("fails when the trailer is split and its second byte is wrong", func() {
			_, err := d.Push([]byte("MSG foo 1 5\r\nhello\r"))
			Expect(err).To(Succeed())

			frames, err := d.Push([]byte("X"))
			Expect(errors.Is(err, protocol.ErrFrameCorrupt)).To(BeTrue())
			Expect(frames).To(BeEmpty())
		})

		It("stays failed after an error", func() {
			_, err := d.Push([]byte("MSG foo 1 1\r\nabc\r\n"))
			Expect(err).To(HaveOccurred())

			frames, again := d.Push([]byte("PING\r\n"))
			Expect(again).To(Equal(err))
			Expect(frames).To(BeEmpty())
			Expect(d.Err()).To(Equal(err))
		})

		It("recovers after Reset", func() {
			_, err := d.Push([]byte("MSG foo 1 1\r\nabc\r\n"))
			Expect(err).To(HaveOccurred())

			d.Reset()

			frames, err := d.Push([]byte("PING\r\n"))
			Expect(err).To(Succeed())
			Expect(frames).To(HaveLen(1))
		})

		It("rejects payloads larger than the limit before buffering them", func() {
			d = protocol.NewDecoder(4)

			_, err := d.Push([]byte("MSG foo 1 5\r\n"))
			Expect(errors.Is(err, protocol.ErrPayloadTooLarge)).To(BeTrue())
		})

		It("rejects control lines that never end", func() {
			_, err := d.Push([]byte("INFO " + strings.Repeat("x", protocol.MaxControlLine)))
			Expect(errors.Is(err, protocol.ErrControlLineTooLong)).To(BeTrue())
		})

		DescribeTable("malformed MSG headers",
			func(header string) {
				_, err := d.Push([]byte(header))
				Expect(errors.Is(err, protocol.ErrMalformedHeader)).To(BeTrue())
			},
			Entry("too few arguments", "MSG foo 5\r\n"),
			Entry("too many arguments", "MSG foo 1 a b 5\r\n"),
			Entry("non numeric size", "MSG foo 1 five\r\n"),
			Entry("negative size", "MSG foo 1 -5\r\n"),
			Entry("size beyond 32 bit ints", "MSG foo 1 4294967301\r\n"),
			Entry("ten digit size", "MSG foo 1 9999999999\r\n"),
		)

		It("rejects the largest accepted size against the limit", func() {
			_, err := d.Push([]byte("MSG foo 1 999999999\r\n"))
			Expect(errors.Is(err, protocol.ErrPayloadTooLarge)).To(BeTrue())
		})
	})

	It("never fails on unknown verbs", func() {
		frames, err := d.Push([]byte("\r\nHELLO\r\nPING\r\n"))
		Expect(err).To(Succeed())
		Expect(frames).To(Equal([]protocol.Frame{
			&protocol.Unrecognized{Header: []byte{}},
			&protocol.Unrecognized{Header: []byte("HELLO")},
			&protocol.Ping{},
		}))
	})

	It("retains only the unconsumed tail", func() {
		_, err := d.Push([]byte("PING\r\nPO"))
		Expect(err).To(Succeed())
		Expect(d.Buffered()).To(Equal(2))
	})

	Describe("SetMaxPayload()", func() {
		It("ignores non positive limits", func() {
			d.SetMaxPayload(0)
			Expect(d.MaxPayload()).To(Equal(protocol.DefaultMaxPayload))

			d.SetMaxPayload(10)
			Expect(d.MaxPayload()).To(Equal(10))
		})
	})

	Describe("RemoveTrailingCR()", func() {
		It("does nothing if the data does not end in CR", func() {
			data := []byte("I am awesome data")
			Expect(protocol.RemoveTrailingCR(data)).To(Equal(data))
		})

		It("removes the trailling CR", func() {
			Expect(protocol.RemoveTrailingCR([]byte("data\r"))).To(Equal([]byte("data")))
		})

		It("copes with empty input", func() {
			Expect(protocol.RemoveTrailingCR([]byte{})).To(BeEmpty())
		})
	})
})
