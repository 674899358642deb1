package stepcompress

import (
	"fmt"

	"gopper/host/mcu"
	"gopper/protocol"
)

// SerialSink is a BurstSink that forwards bursts to a real MCU over
// the Klipper wire protocol, using the oid bound at construction.
// Grounded on host/mcu.MCU.SendCommand and the config_stepper /
// queue_step / set_next_step_dir formats registered by
// core/stepper_commands.go.
type SerialSink struct {
	conn *mcu.MCU
	oid  uint32
}

// NewSerialSink creates a sink that drives the stepper identified by
// oid over an already-connected, dictionary-loaded MCU.
func NewSerialSink(conn *mcu.MCU, oid uint32) *SerialSink {
	return &SerialSink{conn: conn, oid: oid}
}

// SetDirection sends set_next_step_dir for this stepper's oid.
func (s *SerialSink) SetDirection(dir bool) error {
	dirVal := uint32(0)
	if dir {
		dirVal = 1
	}
	err := s.conn.SendCommand("set_next_step_dir", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, s.oid)
		protocol.EncodeVLQUint(out, dirVal)
	})
	if err != nil {
		return fmt.Errorf("stepcompress: set_next_step_dir oid=%d: %w", s.oid, err)
	}
	return nil
}

// QueueMove sends queue_step for this stepper's oid.
func (s *SerialSink) QueueMove(interval uint32, count uint16, add int16) error {
	err := s.conn.SendCommand("queue_step", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, s.oid)
		protocol.EncodeVLQUint(out, interval)
		protocol.EncodeVLQUint(out, uint32(count))
		protocol.EncodeVLQInt(out, int32(add))
	})
	if err != nil {
		return fmt.Errorf("stepcompress: queue_step oid=%d: %w", s.oid, err)
	}
	return nil
}

var _ BurstSink = (*SerialSink)(nil)
