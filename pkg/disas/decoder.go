package disas

import "fmt"

// Decoder is the instruction decoder handle AttachmentState owns for the
// lifetime of one attachment. x86asm.Decode itself is stateless, but a
// failure to open the decoder on attach is treated as a fatal condition,
// which implies a handle with an open/close lifecycle; this type gives
// that lifecycle a home even though this engine's only decoder backend
// never fails to open.
type Decoder struct {
	closed bool
}

// OpenDecoder opens the instruction decoder. Always succeeds for the
// x86asm backend; the error return exists because decoder-open failure is
// treated as fatal and a future backend (e.g. an external disassembler
// process) could fail here.
func OpenDecoder() (*Decoder, error) {
	return &Decoder{}, nil
}

// Close closes the decoder handle. Idempotent.
func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return nil
}

func (d *Decoder) checkOpen() error {
	if d.closed {
		return fmt.Errorf("decoder: use after close")
	}
	return nil
}
