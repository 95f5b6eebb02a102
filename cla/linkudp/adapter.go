// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package linkudp

import (
	"context"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/udtn/cla"
)

// Adapter is the cla.LinkAdapter for UDP. Node ids are
// not routable IP addresses, so an Adapter learns peer->addr mappings as
// discovery beacons (parsed by the discovery package) name a sender;
// LearnPeer records that mapping. Until a peer is learned, any data/ack
// datagram arriving from its address is dropped -- a node must be heard
// from discovery before the CL will talk to it.
type Adapter struct {
	self uint64
	mtu int

	dataConn *net.UDPConn
	discConn *net.UDPConn
	discAddr *net.UDPAddr

	mu sync.Mutex
	peerAddr map[uint64]*net.UDPAddr
	addrPeer map[string]uint64

	frames chan *cla.Frame
	errs chan error
}

// NewAdapter prepares (but does not yet open) a UDP adapter for node self.
// mtu bounds payload size before this adapter's 2-byte header; callers
// typically use the link MTU reported by the interface, e.g. 1472 for a
// plain Ethernet path.
func NewAdapter(self uint64, mtu int) *Adapter {
	return &Adapter{
		self: self,
		mtu: mtu,
		peerAddr: make(map[uint64]*net.UDPAddr),
		addrPeer: make(map[string]uint64),
		frames: make(chan *cla.Frame, 32),
		errs: make(chan error, 1),
	}
}

// Init opens the unicast data socket on DataPort and joins the discovery
// multicast group on DiscoveryPort, then starts both receive loops.
func (a *Adapter) Init() error {
	lc := net.ListenConfig{Control: listenControl}

	dataConn, err := lc.ListenPacket(context.Background(), "udp4", (&net.UDPAddr{Port: DataPort}).String())
	if err != nil {
		return err
	}
	a.dataConn = dataConn.(*net.UDPConn)

	a.discAddr = &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: DiscoveryPort}
	discConn, err := net.ListenMulticastUDP("udp4", nil, a.discAddr)
	if err != nil {
		_ = a.dataConn.Close()
		return err
	}
	a.discConn = discConn

	go a.recvLoop(a.dataConn)
	go a.recvLoop(a.discConn)
	return nil
}

func (a *Adapter) MaxPayloadLength() int {
	budget := a.mtu - 2
	if budget < 0 {
		return 0
	}
	return budget
}

// NextSeqno advances within the 16-value seqno space.
func (a *Adapter) NextSeqno(last uint32) uint32 {
	return (last + 1) % seqnoSpace
}

// LearnPeer records that node is reachable at addr, as discovered by the
// discovery package from a beacon's source.
func (a *Adapter) LearnPeer(node uint64, addr *net.UDPAddr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peerAddr[node] = addr
	a.addrPeer[addr.String()] = node
}

func (a *Adapter) resolvePeer(node uint64) (*net.UDPAddr, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	addr, ok := a.peerAddr[node]
	return addr, ok
}

func (a *Adapter) resolveAddr(addr *net.UDPAddr) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.addrPeer[addr.String()]
	return node, ok
}

// LearnPeerAddr is LearnPeer for a textual "host:port" address, as carried
// by a discovery Frame's Addr field.
func (a *Adapter) LearnPeerAddr(node uint64, addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return err
	}
	a.LearnPeer(node, udpAddr)
	return nil
}

func (a *Adapter) SendDiscovery(payload []byte) error {
	frame := encodeFrame(frameDiscovery, 0, 0, payload)
	_, err := a.discConn.WriteToUDP(frame, a.discAddr)
	return err
}

func (a *Adapter) SendBundle(peer uint64, seq uint32, flags cla.SegmentFlags, payload []byte) error {
	addr, ok := a.resolvePeer(peer)
	if !ok {
		return linkudpError{"linkudp: unknown peer"}
	}
	frame := encodeFrame(frameData, uint8(seq), flags, payload)
	_, err := a.dataConn.WriteToUDP(frame, addr)
	return err
}

func (a *Adapter) SendAck(peer uint64, seq uint32, ackType cla.AckType) error {
	addr, ok := a.resolvePeer(peer)
	if !ok {
		return linkudpError{"linkudp: unknown peer"}
	}
	t := frameAck
	flags := cla.SegmentFlags(0)
	if ackType == cla.AckTypeNack {
		t = frameNack
	} else if ackType == cla.AckTypeNackTemporary {
		t = frameNack
		flags = flagNackTemporary
	}
	frame := encodeFrame(t, uint8(seq), flags, nil)
	_, err := a.dataConn.WriteToUDP(frame, addr)
	return err
}

func (a *Adapter) Input() (*cla.Frame, error) {
	select {
		case f := <-a.frames:
			return f, nil
		case err := <-a.errs:
			return nil, err
	}
}

func (a *Adapter) recvLoop(conn *net.UDPConn) {
	buf := make([]byte, 65535)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
				case a.errs <- err:
				default:
			}
			return
		}

		t, seq, flags, payload, err := decodeFrame(buf[:n])
		if err != nil {
			log.WithError(err).WithField("addr", addr).Debug("linkudp: dropping malformed frame")
			continue
		}

		f := &cla.Frame{Seq: uint32(seq), SegFlags: flags}
		switch t {
			case frameDiscovery:
				f.Kind = cla.FrameDiscovery
				f.Payload = append([]byte(nil), payload...)
				// The peer's node id is inside the beacon body; discovery
				// parses it and calls LearnPeerAddr with this source address
				// to establish the node->address mapping.
				f.Addr = (&net.UDPAddr{IP: addr.IP, Port: DataPort}).String()

			case frameData, frameAck, frameNack:
				node, ok := a.resolveAddr(addr)
				if !ok {
					log.WithField("addr", addr).Debug("linkudp: data/ack from unknown peer, dropping")
					continue
				}
				f.Peer = node
				switch t {
					case frameData:
						f.Kind = cla.FrameData
						f.Payload = append([]byte(nil), payload...)
					case frameAck:
						f.Kind = cla.FrameAck
						f.AckType = cla.AckTypeAck
					case frameNack:
						f.Kind = cla.FrameAck
						if flags.Has(flagNackTemporary) {
							f.AckType = cla.AckTypeNackTemporary
						} else {
							f.AckType = cla.AckTypeNack
						}
				}

			default:
				continue
		}

		select {
			case a.frames <- f:
			default:
				log.Warn("linkudp: frame channel full, dropping inbound frame")
		}
	}
}

func (a *Adapter) Close() error {
	var err error
	if a.dataConn != nil {
		if cErr := a.dataConn.Close(); cErr != nil {
			err = cErr
		}
	}
	if a.discConn != nil {
		if cErr := a.discConn.Close(); cErr != nil {
			err = cErr
		}
	}
	return err
}
