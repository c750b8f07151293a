package replay

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed"
	"github.com/Brandon-Johns/Vicon-DataStream-SDK-examples/internal/feed/wire"
)

const snapLen = 65535

// Writer records snapshots as Ethernet/IPv4/UDP packets in pcap format, the
// same framing a capture of the UDP transport produces.
type Writer struct {
	w       *pcapgo.Writer
	srcPort layers.UDPPort
	dstPort layers.UDPPort
	src     net.IP
	dst     net.IP
}

// NewWriter writes a pcap header to out and returns a Writer addressing
// packets to the given UDP port on localhost.
func NewWriter(out io.Writer, port int) (*Writer, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{
		w:       w,
		srcPort: 50000,
		dstPort: layers.UDPPort(port),
		src:     net.IPv4(127, 0, 0, 1),
		dst:     net.IPv4(127, 0, 0, 1),
	}, nil
}

// Write appends one snapshot captured at ts.
func (w *Writer) Write(ts time.Time, s *feed.Snapshot) error {
	payload, err := wire.MarshalSnapshot(s)
	if err != nil {
		return err
	}
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    w.src,
		DstIP:    w.dst,
	}
	udp := &layers.UDP{SrcPort: w.srcPort, DstPort: w.dstPort}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize frame %d: %w", s.Number, err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(data), Length: len(data)}
	return w.w.WritePacket(ci, data)
}
