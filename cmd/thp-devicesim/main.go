// Command thp-devicesim runs the device role of the protocol over UDP: it
// listens for CHANNEL_ALLOCATION_REQUESTs, hands out channels from a
// thp/pool.Pool (rate-limited, with a quiescence sweep reclaiming idle
// channels), completes the Noise handshake per channel and logs any
// application message it receives.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/doismellburning/thp"
	"github.com/doismellburning/thp/cryptobackend"
	"github.com/doismellburning/thp/internal/config"
	"github.com/doismellburning/thp/internal/logging"
	"github.com/doismellburning/thp/metrics"
	"github.com/doismellburning/thp/pool"
	"github.com/doismellburning/thp/transport/udploop"
)

// handshakeBufSize comfortably holds the largest single handshake message
// (Initiation Response: two 32-byte keys plus an AEAD tag) even once
// fragmented across small transport packets and reassembled.
const handshakeBufSize = 256

func main() {
	configPath := pflag.StringP("config-file", "c", "", "YAML configuration file. Flags below override its fields.")
	listenAddr := pflag.StringP("listen-addr", "a", ":21324", "UDP address to listen on.")
	metricsAddr := pflag.StringP("metrics-addr", "m", "", "If set, serve Prometheus metrics on this address.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()
	if *help {
		pflag.Usage()
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Println("config:", err)
			return
		}
		cfg = loaded
	}
	if *listenAddr != "" {
		cfg.Address = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if cfg.PacketSize == 0 {
		cfg.PacketSize = 64
	}

	logger := logging.New(cfg.LogLevel)
	collectors := metrics.New()

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		collectors.MustRegister(reg)
		go func() {
			handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
			if err := http.ListenAndServe(cfg.MetricsAddr, handler); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	conn, err := udploop.Listen(cfg.Address, cfg.PacketSize)
	if err != nil {
		logging.Fatal(logger, "listening", err)
	}
	defer conn.Close()

	backend := cryptobackend.New()
	priv, pub := backend.GenerateKeypair()
	static := thp.KeyPair{Private: priv, Public: pub}

	p := pool.New(pool.Config{
		AllocationsPerSecond: rate.Limit(10),
		Burst:                5,
		QuiescenceTimeout:    5 * time.Minute,
	})
	p.OnReclaim(func(channelID uint16) {
		logger.Info("reclaimed idle channel", "channel", channelID)
	})
	if err := p.Start(""); err != nil {
		logging.Fatal(logger, "starting pool sweep", err)
	}
	defer p.Stop()

	logger.Info("device listening", "addr", conn.LocalAddr())

	// One handshake runs at a time in this simulator: the broadcast-channel
	// allocation flow and each channel's Noise handshake all happen inline
	// on receipt, matching the sans-I/O core's single-threaded owner loop
	// model (spec.md §5). A production device would fan this out per
	// connection; this binary demonstrates the wire flow, not concurrency.
	var activeChannel *thp.Channel
	var ds *thp.DeviceHandshake
	var initiationDone bool
	msgBuf := make([]byte, handshakeBufSize)

	for {
		pkt, err := conn.Recv()
		if err != nil {
			logging.Fatal(logger, "receiving packet", err)
		}

		if activeChannel == nil && ds == nil {
			if nonce, aerr := thp.ParseChannelAllocationRequest(pkt); aerr == nil {
				ch, channelID, perr := p.Allocate(nonce)
				if perr == pool.ErrBusy {
					out := make([]byte, cfg.PacketSize)
					buildTransportError(out, thp.TransportErrorDeviceBusy)
					conn.Send(out)
					collectors.ObserveTransportError(thp.TransportErrorDeviceBusy)
					continue
				}
				if perr != nil {
					logging.Fatal(logger, "allocating channel", perr)
				}
				collectors.ChannelsAllocated.Inc()

				out := make([]byte, cfg.PacketSize)
				if _, err := thp.BuildChannelAllocationResponse(nonce, channelID, out); err != nil {
					logging.Fatal(logger, "building channel allocation response", err)
				}
				if err := conn.Send(out); err != nil {
					logging.Fatal(logger, "sending channel allocation response", err)
				}
				activeChannel = ch
				activeChannel.SetLogger(logger)
				ds = thp.NewDeviceHandshake(backend, static, nil)
				initiationDone = false
				logger.Info("channel allocated", "channel", channelID)
				continue
			}
		}

		if ds != nil && !ds.Finished() {
			res, perr := activeChannel.PacketIn(pkt, msgBuf)
			collectors.ObservePacketIn(res, perr)
			if perr != nil {
				logging.Fatal(logger, "handshake packet", perr)
			}
			if res.GotMessage() {
				wasInitiated := initiationDone
				initiationDone, err = handshakeStep(ds, activeChannel, msgBuf[:res.MessageLen()], initiationDone)
				if err != nil {
					logging.Fatal(logger, "handshake step", err)
				}
				if wasInitiated {
					ciphers, err := finishHandshake(ds, activeChannel)
					if err != nil {
						logging.Fatal(logger, "completing handshake", err)
					}
					activeChannel.SetCiphers(ciphers)
					p.Touch(activeChannel.ID)
					logger.Info("handshake complete", "channel", activeChannel.ID)
				}
			}
			flushOutgoing(activeChannel, conn, cfg.PacketSize, logger)
			continue
		}

		if activeChannel != nil {
			res, perr := activeChannel.PacketIn(pkt, msgBuf)
			collectors.ObservePacketIn(res, perr)
			p.Touch(activeChannel.ID)
			if perr != nil {
				logger.Warn("dropping packet", "error", perr)
				continue
			}
			if res.GotMessage() {
				msg, derr := thp.DecodeMessage(msgBuf[:res.MessageLen()])
				if derr == nil {
					logger.Info("received application message", "session", msg.SessionID, "type", msg.MessageType)
				}
			}
			flushOutgoing(activeChannel, conn, cfg.PacketSize, logger)
		}
	}
}

// handshakeStep dispatches one reassembled handshake message to the right
// DeviceHandshake call and queues this side's reply (if any) on ch via
// MessageOut, to be flushed by the caller's normal PacketOutReady loop. It
// returns the updated initiationDone flag, keeping the linear
// initiation-then-completion ordering the Noise-XX exchange requires on one
// channel.
func handshakeStep(ds *thp.DeviceHandshake, ch *thp.Channel, payload []byte, initiationDone bool) (bool, error) {
	if !initiationDone {
		if err := ds.ProcessInitiationRequest(payload); err != nil {
			return false, err
		}
		raw := make([]byte, 32+32+thp.AEADTagLen)
		n, err := ds.BuildInitiationResponse(raw)
		if err != nil {
			return false, err
		}
		return true, sendHandshakeReply(ch, thp.HandshakeInitiationResponse, raw[:n])
	}
	return true, ds.ProcessCompletionRequest(payload)
}

func finishHandshake(ds *thp.DeviceHandshake, ch *thp.Channel) (*thp.NoiseCiphers, error) {
	raw := make([]byte, 1+thp.AEADTagLen)
	n, ciphers, err := ds.BuildCompletionResponse(thp.PairingStatePaired, raw)
	if err != nil {
		return nil, err
	}
	if err := sendHandshakeReply(ch, thp.HandshakeCompletionResponse, raw[:n]); err != nil {
		return nil, err
	}
	return ciphers, nil
}

// sendHandshakeReply frames one plaintext handshake message behind a
// HANDSHAKE header for phase and starts it sending on ch; the caller's
// PacketOutReady loop does the actual transmitting.
func sendHandshakeReply(ch *thp.Channel, phase thp.HandshakePhase, raw []byte) error {
	header := thp.NewHandshakeHeader(phase, ch.ID, uint16(len(raw)+thp.CHECKSUM_LEN))
	scratch := make([]byte, len(raw))
	return ch.MessageOut(header, raw, scratch)
}

func flushOutgoing(ch *thp.Channel, conn *udploop.Conn, packetSize int, logger *log.Logger) {
	for ch.PacketOutReady() {
		out := make([]byte, packetSize)
		if _, err := ch.PacketOut(out); err != nil {
			logging.Fatal(logger, "building outgoing packet", err)
		}
		if err := conn.Send(out); err != nil {
			logging.Fatal(logger, "sending packet", err)
		}
	}
}

func buildTransportError(dest []byte, code thp.TransportErrorCode) {
	header := thp.NewErrorHeader(thp.BroadcastChannelID, code)
	_ = thp.FragmentSingle(header, thp.NewSyncBits(), []byte{byte(code)}, dest, false)
}
