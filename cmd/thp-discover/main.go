// Command thp-discover finds Trezor-compatible peers two ways: --advertise
// publishes this host's THP-over-UDP service via mDNS/DNS-SD so a device or
// bridge can find it without a typed-in address, --browse watches the
// network for other instances advertising the same service, and --usb lists
// USB devices currently attached that look like a Trezor, via udev. None of
// the three require each other; a bridge typically runs --advertise while a
// host app runs --browse, and --usb is the fallback for the usb-hid
// transport.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
	"github.com/jochenvg/go-udev"
	"github.com/spf13/pflag"

	"github.com/doismellburning/thp/internal/logging"
)

// serviceType is the DNS-SD service type THP instances advertise themselves
// under, following the teacher's own "_kiss-tnc._tcp" naming for its KISS
// TCP service (src/dns_sd.go) but for THP's UDP transport.
const serviceType = "_trezorhp._udp"

// trezorVendorID is the USB vendor ID SatoshiLabs registers Trezor devices
// under.
const trezorVendorID = "1209"

func main() {
	advertise := pflag.Bool("advertise", false, "Advertise a THP service on this host via mDNS/DNS-SD.")
	browse := pflag.Bool("browse", false, "Watch the network for other advertised THP services.")
	usb := pflag.Bool("usb", false, "List attached USB devices matching a Trezor vendor ID.")
	name := pflag.StringP("name", "n", "", "Service instance name to advertise (defaults to the hostname).")
	port := pflag.IntP("port", "p", 21324, "UDP port to advertise (--advertise only).")
	logLevel := pflag.StringP("log-level", "l", "info", "Log level: debug, info, warn, error.")
	help := pflag.BoolP("help", "h", false, "Display help text.")
	pflag.Parse()
	if *help || (!*advertise && !*browse && !*usb) {
		pflag.Usage()
		return
	}

	logger := logging.New(*logLevel)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *usb {
		if err := listUSBDevices(logger); err != nil {
			logging.Fatal(logger, "listing USB devices", err)
		}
	}

	if *advertise {
		if err := advertiseService(ctx, logger, *name, *port); err != nil {
			logging.Fatal(logger, "advertising service", err)
		}
	}

	if *browse {
		if err := browseServices(ctx, logger); err != nil {
			logging.Fatal(logger, "browsing for services", err)
		}
	}
}

// advertiseService publishes serviceType on port and blocks responding to
// mDNS queries until ctx is canceled, matching the teacher's dns_sd_announce
// (src/dns_sd.go): a Config, a Responder, Add, then Respond.
func advertiseService(ctx context.Context, logger *log.Logger, name string, port int) error {
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "thp-device"
		}
		name = host
	}

	cfg := dnssd.Config{
		Name: name,
		Type: serviceType,
		Port: port,
	}
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("building service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("building responder: %w", err)
	}
	if _, err := responder.Add(svc); err != nil {
		return fmt.Errorf("registering service: %w", err)
	}

	logger.Info("advertising THP service", "name", name, "type", serviceType, "port", port)
	return responder.Respond(ctx)
}

// browseServices watches for other instances of serviceType until ctx is
// canceled, printing each as it appears or disappears.
func browseServices(ctx context.Context, logger *log.Logger) error {
	added := func(e dnssd.BrowseEntry) {
		logger.Info("found THP service", "name", e.Name, "host", e.Host, "port", e.Port, "ips", e.IPs)
	}
	removed := func(e dnssd.BrowseEntry) {
		logger.Info("lost THP service", "name", e.Name)
	}
	logger.Info("browsing for THP services", "type", serviceType)
	return dnssd.LookupType(ctx, serviceType, added, removed)
}

// listUSBDevices enumerates attached USB devices and prints the ones whose
// vendor ID matches trezorVendorID, via udev — the same enumeration
// approach Linux USB-HID transports use to find a device node without the
// user typing a /dev path.
func listUSBDevices(logger *log.Logger) error {
	u := udev.Udev{}
	enum := u.NewEnumerate()
	if err := enum.AddMatchSubsystem("usb"); err != nil {
		return fmt.Errorf("matching usb subsystem: %w", err)
	}
	if err := enum.AddMatchProperty("ID_VENDOR_ID", trezorVendorID); err != nil {
		return fmt.Errorf("matching vendor id: %w", err)
	}

	devices, err := enum.Devices()
	if err != nil {
		return fmt.Errorf("enumerating devices: %w", err)
	}

	found := 0
	for _, dev := range devices {
		found++
		logger.Info("found Trezor USB device",
			"syspath", dev.Syspath(),
			"devnode", dev.Devnode(),
			"product", dev.PropertyValue("ID_MODEL"),
			"serial", dev.PropertyValue("ID_SERIAL_SHORT"),
		)
	}
	if found == 0 {
		logger.Info("no matching USB devices found", "vendor_id", trezorVendorID)
	}
	return nil
}
