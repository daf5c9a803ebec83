package env

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
)

var _ = Describe("Config", func() {
	It("applies defaults", func() {
		config, err := loadConfig(context.Background(), envconfig.MapLookuper(map[string]string{}))
		Expect(err).To(Succeed())

		Expect(config.URL).To(Equal("nats://127.0.0.1:4222"))
		Expect(config.MaxPayload).To(Equal(1048576))
		Expect(config.PingInterval).To(Equal(2 * time.Minute))
		Expect(config.MaxPingsOut).To(Equal(2))
		Expect(config.LogLevel).To(Equal("info"))
	})

	It("reads overrides from the environment", func() {
		config, err := loadConfig(context.Background(), envconfig.MapLookuper(map[string]string{
			"COURIER_URL":           "ws://example.com:8080",
			"COURIER_NAME":          "worker-1",
			"COURIER_VERBOSE":       "true",
			"COURIER_PING_INTERVAL": "10s",
		}))
		Expect(err).To(Succeed())

		Expect(config.URL).To(Equal("ws://example.com:8080"))
		Expect(config.Name).To(Equal("worker-1"))
		Expect(config.Verbose).To(BeTrue())
		Expect(config.PingInterval).To(Equal(10 * time.Second))
	})

	It("fails on values of the wrong type", func() {
		_, err := loadConfig(context.Background(), envconfig.MapLookuper(map[string]string{
			"COURIER_MAX_PAYLOAD": "lots",
		}))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("MakeLogger()", func() {
	It("builds a logger at the requested level", func() {
		log, err := MakeLogger("debug")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(-1)).To(BeTrue())
	})

	It("defaults to info", func() {
		log, err := MakeLogger("")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(-1)).To(BeFalse())
	})

	It("rejects unknown levels", func() {
		_, err := MakeLogger("loud")
		Expect(err).To(HaveOccurred())
	})
})
