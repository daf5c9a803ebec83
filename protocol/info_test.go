package protocol_test

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/protocol"
)

var _ = Describe("ServerInfo", func() {
	It("reads the fields the client uses", func() {
		info, err := protocol.ParseServerInfo([]byte(`{
			"server_id": "NABC",
			"version": "2.10.1",
			"go": "go1.21",
			"host": "0.0.0.0",
			"port": 4222,
			"max_payload": 1024,
			"proto": 1,
			"auth_required": true,
			"connect_urls": ["10.0.0.1:4222", "10.0.0.2:4222"]
		}`))
		Expect(err).To(Succeed())

		Expect(info.ServerID).To(Equal("NABC"))
		Expect(info.Version).To(Equal("2.10.1"))
		Expect(info.GoVersion).To(Equal("go1.21"))
		Expect(info.Port).To(Equal(4222))
		Expect(info.MaxPayload).To(Equal(1024))
		Expect(info.Proto).To(Equal(1))
		Expect(info.AuthRequired).To(BeTrue())
		Expect(info.TLSRequired).To(BeFalse())
		Expect(info.ConnectURLs).To(Equal([]string{"10.0.0.1:4222", "10.0.0.2:4222"}))
	})

	It("accepts an empty object", func() {
		info, err := protocol.ParseServerInfo([]byte("{}"))
		Expect(err).To(Succeed())
		Expect(info.MaxPayload).To(Equal(0))
	})

	It("accepts a missing blob", func() {
		info, err := protocol.ParseServerInfo(nil)
		Expect(err).To(Succeed())
		Expect(string(info.Raw)).To(Equal("{}"))
	})

	It("rejects invalid JSON", func() {
		_, err := protocol.ParseServerInfo([]byte("{nope"))
		Expect(err).To(MatchError(protocol.ErrInvalidServerInfo))

		_, err = protocol.ParseServerInfo([]byte("[1,2]"))
		Expect(err).To(MatchError(protocol.ErrInvalidServerInfo))
	})
})

var _ = Describe("ConnectOptions", func() {
	It("omits empty credentials and name", func() {
		body, err := protocol.ConnectOptions{Verbose: true, Lang: "go", Version: "dev"}.Marshal()
		Expect(err).To(Succeed())
		Expect(string(body)).To(Equal(`{"verbose":true,"pedantic":false,"ssl_required":false,"lang":"go","version":"dev"}`))
	})

	It("round trips through Unmarshal", func() {
		opts := protocol.ConnectOptions{
			Verbose:     true,
			Pedantic:    true,
			SSLRequired: true,
			AuthToken:   "s3cret",
			User:        "derek",
			Pass:        "pa\"ss",
			Name:        "courier-test",
			Lang:        "go",
			Version:     "1.2.3",
		}

		body, err := opts.Marshal()
		Expect(err).To(Succeed())

		var got protocol.ConnectOptions
		Expect(got.Unmarshal(body)).To(Succeed())
		Expect(got).To(Equal(opts))
	})

	It("rejects invalid JSON", func() {
		var got protocol.ConnectOptions
		Expect(got.Unmarshal([]byte("CONNECT"))).To(MatchError(protocol.ErrInvalidConnectField))
	})
})

var _ = Describe("ServerError", func() {
	It("matches other server errors by message, ignoring case", func() {
		var err error = &protocol.ServerError{Message: "Slow Consumer"}

		Expect(errors.Is(err, &protocol.ServerError{Message: "slow consumer"})).To(BeTrue())
		Expect(errors.Is(err, &protocol.ServerError{Message: "Authorization Violation"})).To(BeFalse())
		Expect(err.Error()).To(Equal("server error: Slow Consumer"))
	})
})
