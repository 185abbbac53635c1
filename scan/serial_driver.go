package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
)

// PortOptions describes how a serial port is opened
type PortOptions struct {
	BaudRate int    `yaml:"baudRate" json:"baudRate"`
	DataBits int    `yaml:"dataBits" json:"dataBits"`
	StopBits int    `yaml:"stopBits" json:"stopBits"`
	Parity   string `yaml:"parity" json:"parity"`
}

// Normalize validates the options and fills unset fields with 115200 8N1
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for serial.Open
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}
	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// serialPollInterval bounds each blocking read so deadlines and ctx are honoured
const serialPollInterval = 50 * time.Millisecond

// SerialRig drives the pan/tilt controller and range sensor over a line
// protocol. Commands are "H <deg>", "V <deg>" and "R", answered by "OK" or
// "ERR <msg>"; "D" is answered by "D <mm>". One SerialRig can serve as both
// MotionDriver and SensorDriver when both devices share a port.
type SerialRig struct {
	port    io.ReadWriteCloser
	mu      sync.Mutex
	pending []byte
	closed  bool

	Timeout     time.Duration // per-command reply deadline
	MinDistance float64
	MaxDistance float64
	Clock       clock.Clock
	Logf        Logf
}

// NewSerialRig wraps an open port
func NewSerialRig(port io.ReadWriteCloser, minDist, maxDist float64, timeout time.Duration) *SerialRig {
	return &SerialRig{
		port:        port,
		Timeout:     timeout,
		MinDistance: minDist,
		MaxDistance: maxDist,
		Clock:       clock.New(),
	}
}

// OpenSerialRig opens path with opts and wraps it
func OpenSerialRig(path string, opts PortOptions, minDist, maxDist float64, timeout time.Duration) (*SerialRig, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, hardwareErr("open", "opening %s: %v", path, err)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close()
		return nil, hardwareErr("open", "setting read timeout on %s: %v", path, err)
	}
	return NewSerialRig(port, minDist, maxDist, timeout), nil
}

// Close closes the port. Repeated calls are no-ops.
func (r *SerialRig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.port.Close()
}

func (r *SerialRig) RotateHorizontal(ctx context.Context, degrees float64) error {
	return r.expectOK(ctx, "rotate horizontal", "H "+formatDegrees(degrees))
}

func (r *SerialRig) RotateVertical(ctx context.Context, degrees float64) error {
	return r.expectOK(ctx, "rotate vertical", "V "+formatDegrees(degrees))
}

func (r *SerialRig) Reset(ctx context.Context) error {
	return r.expectOK(ctx, "reset", "R")
}

// Distance requests one reading in millimetres
func (r *SerialRig) Distance(ctx context.Context) (float64, error) {
	reply, err := r.command(ctx, "distance", "D")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(reply)
	if len(fields) != 2 || fields[0] != "D" {
		return 0, hardwareErr("distance", "unexpected reply %q", reply)
	}
	d, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, hardwareErr("distance", "bad reading %q", fields[1])
	}
	if d < r.MinDistance || d > r.MaxDistance {
		return 0, hardwareErr("distance", "reading %.1f outside [%.0f, %.0f]", d, r.MinDistance, r.MaxDistance)
	}
	return d, nil
}

func formatDegrees(d float64) string {
	return strconv.FormatFloat(d, 'f', -1, 64)
}

func (r *SerialRig) expectOK(ctx context.Context, op, cmd string) error {
	reply, err := r.command(ctx, op, cmd)
	if err != nil {
		return err
	}
	switch {
	case reply == "OK":
		return nil
	case strings.HasPrefix(reply, "ERR"):
		return hardwareErr(op, "device error: %s", strings.TrimSpace(strings.TrimPrefix(reply, "ERR")))
	default:
		return hardwareErr(op, "unexpected reply %q", reply)
	}
}

// command writes one line and waits for one reply line
func (r *SerialRig) command(ctx context.Context, op, cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", hardwareErr(op, "port closed")
	}

	r.Logf.printf("[SERIAL] > %s", cmd)
	line := cmd + "\n"
	n, err := r.port.Write([]byte(line))
	if err != nil {
		return "", hardwareErr(op, "writing %q: %v", cmd, err)
	}
	if n != len(line) {
		return "", hardwareErr(op, "short write: %d of %d bytes", n, len(line))
	}

	reply, err := r.readLine(ctx, op)
	if err != nil {
		return "", err
	}
	r.Logf.printf("[SERIAL] < %s", reply)
	return reply, nil
}

func (r *SerialRig) readLine(ctx context.Context, op string) (string, error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.New()
	}
	deadline := clk.Now().Add(r.Timeout)
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(r.pending[:i]))
			r.pending = r.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", &Error{Kind: HardwareFault, Op: op, Err: err}
		}
		if r.Timeout > 0 && !clk.Now().Before(deadline) {
			return "", hardwareErr(op, "no reply within %s", r.Timeout)
		}
		n, err := r.port.Read(buf)
		r.pending = append(r.pending, buf[:n]...)
		if err != nil && !(err == io.EOF && n > 0) {
			return "", hardwareErr(op, "reading reply: %v", err)
		}
	}
}

// OpenSerialHardware opens the motion and sensor ports. When both names
// refer to the same device a single SerialRig serves as both drivers.
func OpenSerialHardware(motionPort, sensorPort string, opts PortOptions, minDist, maxDist float64, timeout time.Duration) (Hardware, error) {
	if motionPort == "" {
		return Hardware{}, fmt.Errorf("motion port is required")
	}
	motion, err := OpenSerialRig(motionPort, opts, minDist, maxDist, timeout)
	if err != nil {
		return Hardware{}, err
	}
	if sensorPort == "" || sensorPort == motionPort {
		return Hardware{Motion: motion, Sensor: motion}, nil
	}
	sensor, err := OpenSerialRig(sensorPort, opts, minDist, maxDist, timeout)
	if err != nil {
		motion.Close()
		return Hardware{}, err
	}
	return Hardware{Motion: motion, Sensor: sensor}, nil
}
