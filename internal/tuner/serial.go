package tuner

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

// Serial read timeout. Reads return empty on expiry so the reader can notice
// Close without a pending byte.
const serialReadTimeout = 100 * time.Millisecond

// OpenSerial opens a tuning host serial line.
func OpenSerial(device string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: serialReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", device, err)
	}
	return port, nil
}

// SerialBridge writes one telemetry line per iteration and reads rate commands
// on a background goroutine.
type SerialBridge struct {
	port   io.ReadWriteCloser
	onRate RateFunc

	wmu    sync.Mutex
	closed atomic.Bool
	done   chan struct{}
}

// NewSerialBridge starts reading commands from port. onRate may be nil.
func NewSerialBridge(port io.ReadWriteCloser, onRate RateFunc) *SerialBridge {
	b := &SerialBridge{
		port:   port,
		onRate: onRate,
		done:   make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Exchange writes s as a telemetry line.
func (b *SerialBridge) Exchange(s State) error {
	if b.closed.Load() {
		return errors.New("tuner: serial bridge closed")
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	if _, err := io.WriteString(b.port, FormatLine(s)); err != nil {
		return fmt.Errorf("write telemetry: %w", err)
	}
	return nil
}

// Close closes the port and waits for the reader to exit.
func (b *SerialBridge) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	err := b.port.Close()
	<-b.done
	return err
}

func (b *SerialBridge) readLoop() {
	defer close(b.done)

	buf := make([]byte, 256)
	var line strings.Builder
	for {
		n, err := b.port.Read(buf)
		for _, c := range buf[:n] {
			switch c {
			case '\n':
				b.handle(line.String())
				line.Reset()
			case '\r':
			default:
				line.WriteByte(c)
			}
		}
		if b.closed.Load() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Read timeout with nothing received.
				continue
			}
			log.Printf("tuner: serial read: %v", err)
			return
		}
	}
}

func (b *SerialBridge) handle(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	req, err := ParseCommand(line)
	if err != nil {
		log.Printf("tuner: ignoring command %q: %v", line, err)
		return
	}
	log.Printf("tuner: rate request %s=%dHz", req.Mode, req.Hz)
	if b.onRate != nil {
		b.onRate(req.Mode, req.Hz)
	}
}
