// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package link154

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/rf95modem-go/rf95"
)

// Rf95Modem is a Modem backed by an rf95modem-go serial LoRa radio, built
// the way _examples/dtn7-dtn7-gold/cla/bbc.Rf95Modem wraps the same
// library.
type Rf95Modem struct {
	device string
	modem *rf95.Modem
}

// NewRf95Modem opens a serial connection to device, e.g. /dev/ttyUSB0.
func NewRf95Modem(device string) (*Rf95Modem, error) {
	m, err := rf95.OpenSerial(device)
	if err != nil {
		return nil, err
	}
	return &Rf95Modem{device: device, modem: m}, nil
}

// Frequency changes the radio's frequency, specified in MHz.
func (r *Rf95Modem) Frequency(frequency float64) error {
	log.WithFields(log.Fields{"modem": r, "frequency": frequency}).Debug("link154: shifting frequency")
	return r.modem.Frequency(frequency)
}

// Mode sets the radio's modem configuration.
func (r *Rf95Modem) Mode(mode rf95.ModemMode) error {
	log.WithFields(log.Fields{"modem": r, "mode": mode}).Debug("link154: changing mode")
	return r.modem.Mode(mode)
}

func (r *Rf95Modem) Mtu() int {
	mtu, _ := r.modem.Mtu()
	return mtu
}

func (r *Rf95Modem) Send(frame []byte) error {
	_, err := r.modem.Write(frame)
	return err
}

func (r *Rf95Modem) Receive() ([]byte, error) {
	buf := make([]byte, r.Mtu())
	n, err := r.modem.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (r *Rf95Modem) Close() error {
	return r.modem.Close()
}

func (r *Rf95Modem) String() string {
	status, err := r.modem.FetchStatus()
	if err != nil {
		return fmt.Sprintf("rf95modem%s", r.device)
	}
	return fmt.Sprintf("rf95modem%s?frequency=%f&mode=%d", r.device, status.Frequency, status.Mode)
}
