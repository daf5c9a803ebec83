package client_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/courier/client"
	"github.com/luma/courier/protocol"
	"github.com/luma/courier/registry"
)

const testInfo = `{"server_id":"fake","version":"2.10.0","max_payload":1024}`

var _ = Describe("Conn", func() {
	var (
		server *fakeServer
		conn   *client.Conn
		ctx    context.Context
		cancel context.CancelFunc
	)

	connect := func(opts client.Options) {
		var err error

		opts.URL = server.URL()
		conn, err = client.Connect(ctx, opts)
		Expect(err).To(Succeed())
	}

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		conn = nil
		server = nil
	})

	AfterEach(func() {
		if conn != nil {
			conn.Close()
		}

		if server != nil {
			server.Close()
		}

		cancel()
	})

	Describe("Connect", func() {
		It("completes the handshake", func() {
			server = startFakeServer(testInfo)
			connect(client.Options{Name: "tester"})

			Expect(conn.Info().ServerID).To(Equal("fake"))
			Expect(conn.Info().MaxPayload).To(Equal(1024))

			line := server.nextLine()
			Expect(line).To(HavePrefix("CONNECT {"))
			Expect(line).To(ContainSubstring(`"name":"tester"`))
			Expect(line).To(ContainSubstring(`"lang":"go"`))
		})

		It("takes credentials from the URL", func() {
			server = startFakeServer(testInfo)

			var err error
			conn, err = client.Connect(ctx, client.Options{
				URL: "nats://bob:secret@" + server.ln.Addr().String(),
			})
			Expect(err).To(Succeed())

			line := server.nextLine()
			Expect(line).To(ContainSubstring(`"user":"bob"`))
			Expect(line).To(ContainSubstring(`"pass":"secret"`))
		})

		It("fails when the server rejects CONNECT", func() {
			server = startFakeServer(testInfo, func(s *fakeServer) {
				s.reject = "Authorization Violation"
			})

			_, err := client.Connect(ctx, client.Options{URL: server.URL()})

			var serverErr *protocol.ServerError
			Expect(errors.As(err, &serverErr)).To(BeTrue())
			Expect(serverErr.Message).To(Equal("Authorization Violation"))
		})

		It("gives up when the server never greets", func() {
			server = startFakeServer("")

			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()

			_, err := client.Connect(short, client.Options{URL: server.URL()})
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("fails on unsupported URLs", func() {
			_, err := client.Connect(ctx, client.Options{URL: "http://127.0.0.1:4222"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("messaging", func() {
		BeforeEach(func() {
			server = startFakeServer(testInfo)
			connect(client.Options{})
		})

		It("delivers published messages to subscribers", func() {
			msgs := make(chan *registry.Message, 4)

			sub, err := conn.ChanSubscribe("orders.*", msgs)
			Expect(err).To(Succeed())
			Expect(sub.Subject).To(Equal("orders.*"))

			Expect(conn.Publish("orders.new", []byte("one"))).To(Succeed())

			var msg *registry.Message
			Eventually(msgs).Should(Receive(&msg))
			Expect(msg.Subject).To(Equal("orders.new"))
			Expect(msg.Data).To(Equal([]byte("one")))
			Expect(msg.Sub).To(BeIdenticalTo(sub))
		})

		It("stops delivering after Unsubscribe", func() {
			msgs := make(chan *registry.Message, 4)

			sub, err := conn.ChanSubscribe("orders", msgs)
			Expect(err).To(Succeed())
			Expect(conn.Unsubscribe(sub)).To(Succeed())

			Expect(conn.Publish("orders", []byte("late"))).To(Succeed())
			Expect(conn.Ping(ctx)).To(Succeed())

			Consistently(msgs, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("removes auto unsubscribed subscriptions after the limit", func() {
			msgs := make(chan *registry.Message, 4)

			sub, err := conn.ChanSubscribe("orders", msgs)
			Expect(err).To(Succeed())
			Expect(conn.AutoUnsubscribe(sub, 1)).To(Succeed())

			Expect(conn.Publish("orders", []byte("a"))).To(Succeed())
			Expect(conn.Publish("orders", []byte("b"))).To(Succeed())
			Expect(conn.Ping(ctx)).To(Succeed())

			var msg *registry.Message
			Eventually(msgs).Should(Receive(&msg))
			Expect(msg.Data).To(Equal([]byte("a")))

			Consistently(msgs, 50*time.Millisecond).ShouldNot(Receive())
			Expect(conn.Stats().Subscriptions).To(Equal(0))
			Expect(sub.Delivered()).To(Equal(uint64(1)))
		})

		It("sends queue groups with SUB", func() {
			_, err := conn.QueueSubscribe("jobs", "workers", registry.HandlerFunc(func(*registry.Message) error {
				return nil
			}))
			Expect(err).To(Succeed())

			Eventually(server.lines).Should(Receive(Equal("SUB jobs workers 1")))
		})

		It("answers requests with the first reply", func() {
			_, err := conn.Subscribe("help", registry.HandlerFunc(func(msg *registry.Message) error {
				return conn.Publish(msg.Reply, []byte("ok "+string(msg.Data)))
			}))
			Expect(err).To(Succeed())

			resp, err := conn.Request(ctx, "help", []byte("please"))
			Expect(err).To(Succeed())
			Expect(resp.Data).To(Equal([]byte("ok please")))

			resp, err = conn.Request(ctx, "help", []byte("again"))
			Expect(err).To(Succeed())
			Expect(resp.Data).To(Equal([]byte("ok again")))
		})

		It("times out requests nobody answers", func() {
			short, stop := context.WithTimeout(ctx, 50*time.Millisecond)
			defer stop()

			_, err := conn.Request(short, "nobody.home", nil)
			Expect(err).To(MatchError(context.DeadlineExceeded))
		})

		It("rejects payloads over the server limit", func() {
			err := conn.Publish("big", make([]byte, 2048))
			Expect(err).To(HaveOccurred())
		})

		It("flushes with Ping", func() {
			Expect(conn.Ping(ctx)).To(Succeed())
			Expect(conn.Stats().PingsOut).To(Equal(0))
		})
	})

	Describe("closing", func() {
		It("fails pending requests when the server goes away", func() {
			server = startFakeServer(testInfo)
			connect(client.Options{})

			errs := make(chan error, 1)
			go func() {
				_, err := conn.Request(ctx, "nobody.home", nil)
				errs <- err
			}()

			Eventually(server.lines).Should(Receive(HavePrefix("PUB nobody.home")))
			server.DropClients()

			var err error
			Eventually(errs).Should(Receive(&err))
			Expect(errors.Is(err, client.ErrConnectionClosed)).To(BeTrue())

			Eventually(conn.Done()).Should(BeClosed())
			Expect(errors.Is(conn.Err(), client.ErrConnectionClosed)).To(BeTrue())
		})

		It("closes stale connections", func() {
			server = startFakeServer(testInfo, func(s *fakeServer) {
				// only the handshake PING is answered
				s.maxPongs = 1
			})
			connect(client.Options{PingInterval: 10 * time.Millisecond, MaxPingsOut: 2})

			Eventually(conn.Done()).Should(BeClosed())
			Expect(conn.Err()).To(MatchError(client.ErrStaleConnection))
		})

		It("ends channel subscriptions when the connection closes", func() {
			server = startFakeServer(testInfo)
			connect(client.Options{})

			msgs := make(chan *registry.Message, 4)
			_, err := conn.ChanSubscribe("orders", msgs)
			Expect(err).To(Succeed())

			drained := make(chan int)
			go func() {
				n := 0
				for range msgs {
					n++
				}
				drained <- n
			}()

			Expect(conn.Publish("orders", []byte("a"))).To(Succeed())
			Expect(conn.Ping(ctx)).To(Succeed())

			server.DropClients()

			Eventually(drained).Should(Receive(Equal(1)))
		})

		It("refuses to publish after Close", func() {
			server = startFakeServer(testInfo)
			connect(client.Options{})

			Expect(conn.Close()).To(Succeed())
			Expect(conn.Done()).To(BeClosed())
			Expect(conn.Publish("foo", nil)).To(HaveOccurred())

			conn = nil
		})
	})
})
