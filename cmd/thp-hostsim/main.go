// Command thp-hostsim runs the host role of the protocol over UDP,
// performing channel allocation, a Noise
// handshake and one application message exchange, with optional Prometheus
// metrics export.
package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/doismellburning/thp"
	"github.com/doismellburning/thp/cryptobackend"
	"github.com/doismellburning/thp/internal/config"
	"github.com/doismellburning/thp/internal/logging"
	"github.com/doismellburning/thp/internal/wire"
	"github.com/doismellburning/thp/metrics"
	"github.com/doismellburning/thp/transport/udploop"
)

// handshakeBufSize comfortably holds the largest single handshake message
// (Initiation Response: two 32-byte keys plus an AEAD tag) even once
// fragmented across small transport packets and reassembled.
const handshakeBufSize = 256

func main() {
	configPath := pflag.StringP("config-file", "c", "", "YAML configuration file. Flags below override its fields.")
	deviceAddr := pflag.StringP("device-addr", "d", "", "host:port of the device to connect to.")
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
	if *deviceAddr != "" {
		cfg.Address = *deviceAddr
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
		go serveMetrics(logger, cfg.MetricsAddr, reg)
	}

	conn, err := udploop.Dial(cfg.Address, cfg.PacketSize)
	if err != nil {
		logging.Fatal(logger, "dialing device", err)
	}
	defer conn.Close()

	backend := cryptobackend.New()
	priv, pub := backend.GenerateKeypair()
	static := thp.KeyPair{Private: priv, Public: pub}

	verify, err := config.LoadTrustAnchors(cfg.TrustAnchorFile)
	if err != nil {
		logging.Fatal(logger, "loading trust anchors", err)
	}

	var nonce [thp.NonceLen]byte
	backend.RandomBytes(nonce[:])
	allocReq := make([]byte, cfg.PacketSize)
	n, err := thp.BuildChannelAllocationRequest(nonce, allocReq)
	if err != nil {
		logging.Fatal(logger, "building channel allocation request", err)
	}
	if err := conn.Send(allocReq[:n]); err != nil {
		logging.Fatal(logger, "sending channel allocation request", err)
	}

	allocResp, err := conn.Recv()
	if err != nil {
		logging.Fatal(logger, "receiving channel allocation response", err)
	}
	gotNonce, channelID, err := thp.ParseChannelAllocationResponse(allocResp)
	if err != nil {
		logging.Fatal(logger, "parsing channel allocation response", err)
	}
	if gotNonce != nonce {
		logging.Fatal(logger, "channel allocation", fmt.Errorf("nonce mismatch"))
	}
	logger.Info("channel allocated", "channel", channelID)

	retransmit := time.Duration(cfg.RetransmitTimeoutMillis) * time.Millisecond
	if retransmit <= 0 {
		retransmit = 500 * time.Millisecond
	}

	ch := thp.NewChannel(channelID, true)
	ch.SetLogger(logger)
	msgBuf := make([]byte, handshakeBufSize)
	obs := &wire.Observer{
		PacketIn:   collectors.ObservePacketIn,
		Retransmit: collectors.ARQRetransmits.Inc,
	}

	hs := thp.NewHostHandshake(backend, static, nil, verify)

	raw1 := make([]byte, 32)
	n1, err := hs.BuildInitiationRequest(raw1)
	if err != nil {
		logging.Fatal(logger, "building initiation request", err)
	}
	res, err := sendHandshake(ch, thp.HandshakeInitiationRequest, raw1[:n1], msgBuf, cfg.PacketSize, conn, retransmit, true, obs)
	if err != nil {
		logging.Fatal(logger, "exchanging initiation request/response", err)
	}
	if err := hs.ProcessInitiationResponse(msgBuf[:res.MessageLen()]); err != nil {
		logging.Fatal(logger, "processing initiation response", err)
	}

	raw3 := make([]byte, 32+thp.AEADTagLen)
	n3, err := hs.BuildCompletionRequest(raw3)
	if err != nil {
		logging.Fatal(logger, "building completion request", err)
	}
	res, err = sendHandshake(ch, thp.HandshakeCompletionRequest, raw3[:n3], msgBuf, cfg.PacketSize, conn, retransmit, true, obs)
	if err != nil {
		logging.Fatal(logger, "exchanging completion request/response", err)
	}
	pairing, ciphers, err := hs.ProcessCompletionResponse(msgBuf[:res.MessageLen()])
	if err != nil {
		logging.Fatal(logger, "processing completion response", err)
	}
	collectors.ObserveHandshake(pairing)
	ch.SetCiphers(ciphers)
	logger.Info("handshake complete", "pairing", pairing, "channel", channelID)

	body := []byte("hello device")
	plain := make([]byte, thp.SessionHeaderLen+len(body))
	if _, err := thp.EncodeMessage(1, 0x0001, body, plain); err != nil {
		logging.Fatal(logger, "encoding message", err)
	}
	scratch := make([]byte, len(plain)+thp.AEADTagLen+thp.CHECKSUM_LEN)
	header := thp.NewEncryptedHeader(ch.ID, append(append([]byte{}, plain...), make([]byte, thp.AEADTagLen)...))
	if _, err := wire.SendAndAwait(ch, header, plain, scratch, msgBuf, cfg.PacketSize, conn, retransmit, false, obs); err != nil {
		logging.Fatal(logger, "sending application message", err)
	}

	logger.Info("message delivered")
}

// sendHandshake frames one plaintext handshake message behind a HANDSHAKE
// header for phase and drives it to completion over conn. expectReply
// mirrors every Noise-XX step but the last, where the peer answers on the
// same channel rather than merely acknowledging.
func sendHandshake(ch *thp.Channel, phase thp.HandshakePhase, raw, msgBuf []byte, packetSize int, conn *udploop.Conn, retransmit time.Duration, expectReply bool, obs *wire.Observer) (thp.PacketInResult, error) {
	header := thp.NewHandshakeHeader(phase, ch.ID, uint16(len(raw)+thp.CHECKSUM_LEN))
	scratch := make([]byte, len(raw))
	return wire.SendAndAwait(ch, header, raw, scratch, msgBuf, packetSize, conn, retransmit, expectReply, obs)
}

func serveMetrics(logger *log.Logger, addr string, reg *prometheus.Registry) {
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
