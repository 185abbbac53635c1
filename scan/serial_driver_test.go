package scan

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort answers each written line with respond(line). An empty read
// advances the mock clock by one poll interval, like a port read timeout.
type fakePort struct {
	mu       sync.Mutex
	respond  func(cmd string) string
	written  []string
	partial  string
	out      bytes.Buffer
	clk      *clock.Mock
	readErr  error
	closeCnt int
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.partial += string(b)
	for {
		i := strings.IndexByte(p.partial, '\n')
		if i < 0 {
			break
		}
		cmd := p.partial[:i]
		p.partial = p.partial[i+1:]
		p.written = append(p.written, cmd)
		if p.respond != nil {
			p.out.WriteString(p.respond(cmd))
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.out.Len() > 0 {
		defer p.mu.Unlock()
		return p.out.Read(b)
	}
	err := p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if p.clk != nil {
		p.clk.Add(serialPollInterval)
	}
	return 0, nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCnt++
	return nil
}

func newFakeRig(respond func(string) string) (*SerialRig, *fakePort) {
	port := &fakePort{respond: respond, clk: clock.NewMock()}
	rig := NewSerialRig(port, 30, 255, 2*time.Second)
	rig.Clock = port.clk
	return rig, port
}

func reply(s string) func(string) string {
	return func(string) string { return s }
}

func TestSerialRig_Motion(t *testing.T) {
	ctx := context.Background()
	rig, port := newFakeRig(reply("OK\n"))

	require.NoError(t, rig.RotateHorizontal(ctx, 45.5))
	require.NoError(t, rig.RotateVertical(ctx, -10))
	require.NoError(t, rig.Reset(ctx))

	assert.Equal(t, []string{"H 45.5", "V -10", "R"}, port.written)
}

func TestSerialRig_MotionReplies(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		wantErr string
	}{
		{"ok", "OK\n", ""},
		{"crlf and blank lines", "\r\n\r\nOK\r\n", ""},
		{"device error", "ERR stalled\n", "device error: stalled"},
		{"unexpected", "WAT\n", `unexpected reply "WAT"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig, _ := newFakeRig(reply(tt.reply))
			err := rig.RotateHorizontal(context.Background(), 90)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsHardwareFault(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSerialRig_Distance(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    float64
		wantErr bool
	}{
		{"in range", "D 123.4\n", 123.4, false},
		{"lower limit", "D 30\n", 30, false},
		{"too close", "D 12\n", 0, true},
		{"too far", "D 999\n", 0, true},
		{"not a number", "D abc\n", 0, true},
		{"wrong prefix", "X 100\n", 0, true},
		{"device error", "ERR no echo\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig, port := newFakeRig(reply(tt.reply))
			d, err := rig.Distance(context.Background())
			assert.Equal(t, []string{"D"}, port.written)
			if tt.wantErr {
				assert.True(t, IsHardwareFault(err), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
		})
	}
}

func TestSerialRig_RepliesStayInOrder(t *testing.T) {
	// two replies arriving in one chunk are consumed one per command
	rig, port := newFakeRig(nil)
	port.out.WriteString("OK\nD 100\n")

	require.NoError(t, rig.Reset(context.Background()))
	d, err := rig.Distance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, d)
}

func TestSerialRig_Timeout(t *testing.T) {
	rig, port := newFakeRig(reply(""))
	start := port.clk.Now()

	err := rig.Reset(context.Background())
	require.Error(t, err)
	assert.True(t, IsHardwareFault(err))
	assert.Contains(t, err.Error(), "no reply within 2s")
	assert.Equal(t, 2*time.Second, port.clk.Now().Sub(start))
}

func TestSerialRig_ContextCancelled(t *testing.T) {
	rig, _ := newFakeRig(reply(""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := rig.RotateVertical(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsHardwareFault(err))
}

func TestSerialRig_ReadError(t *testing.T) {
	rig, port := newFakeRig(reply(""))
	port.readErr = errors.New("device unplugged")

	_, err := rig.Distance(context.Background())
	assert.True(t, IsHardwareFault(err))
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestSerialRig_Close(t *testing.T) {
	rig, port := newFakeRig(reply("OK\n"))

	require.NoError(t, rig.Close())
	require.NoError(t, rig.Close())
	assert.Equal(t, 1, port.closeCnt)

	err := rig.Reset(context.Background())
	assert.True(t, IsHardwareFault(err))
	assert.Empty(t, port.written)
}

func TestSerialRig_ImplementsDrivers(t *testing.T) {
	rig, _ := newFakeRig(reply("OK\n"))
	var _ MotionDriver = rig
	var _ SensorDriver = rig

	hw := Hardware{Motion: rig, Sensor: rig}
	assert.NoError(t, hw.Close())
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even parity word", PortOptions{BaudRate: 9600, Parity: "even"}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"odd with two stop bits", PortOptions{DataBits: 7, StopBits: 2, Parity: " o "}, PortOptions{BaudRate: 115200, DataBits: 7, StopBits: 2, Parity: "O"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 57600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 57600, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, mode)

	_, err = PortOptions{Parity: "?"}.SerialMode()
	assert.Error(t, err)
}

func TestOpenSerialHardware_Validation(t *testing.T) {
	_, err := OpenSerialHardware("", "", PortOptions{}, 30, 255, time.Second)
	assert.Error(t, err)

	_, err = OpenSerialRig("/dev/null", PortOptions{StopBits: 5}, 30, 255, time.Second)
	assert.Error(t, err, "options are checked before the port is opened")
}
