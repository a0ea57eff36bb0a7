package discovery

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/muurk/roehn/internal/protocol"
)

// fakeProcessor answers HSN_S-UDP requests on 127.0.0.1.
type fakeProcessor struct {
	conn   *net.UDPConn
	handle func(req []byte) [][]byte

	// replyVia, when set, sends replies from another socket
	replyVia *net.UDPConn

	mu       sync.Mutex
	requests [][]byte
}

func newFakeProcessor(t *testing.T, handle func(req []byte) [][]byte) *fakeProcessor {
	t.Helper()
	return newFakeProcessorVia(t, nil, handle)
}

func newFakeProcessorVia(t *testing.T, via *net.UDPConn, handle func(req []byte) [][]byte) *fakeProcessor {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeProcessor{conn: conn, handle: handle, replyVia: via}
	go f.serve()
	t.Cleanup(func() { conn.Close() })
	return f
}

func (f *fakeProcessor) serve() {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, from, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		req := append([]byte(nil), buf[:n]...)

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()

		out := f.conn
		if f.replyVia != nil {
			out = f.replyVia
		}
		for _, reply := range f.handle(req) {
			_, _ = out.WriteToUDP(reply, from)
		}
	}
}

func (f *fakeProcessor) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeProcessor) received() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.requests...)
}

func (f *fakeProcessor) session() *Session {
	s := NewSession("127.0.0.1")
	s.Port = f.port()
	s.Timeout = 150 * time.Millisecond
	return s
}

func opcode(req []byte) (byte, byte) {
	if len(req) < protocol.HeaderSize+2 {
		return 0, 0
	}
	return req[protocol.OpcodeOffset], req[protocol.SubOpOffset]
}

func requestedIndex(req []byte) int {
	return int(binary.LittleEndian.Uint16(req[11:13]))
}

func discoverReply(name, serial string) []byte {
	f := make([]byte, protocol.FullDiscoverReply)
	copy(f, protocol.Header)
	f[9] = protocol.OpDiscover
	copy(f[12:], name)
	copy(f[32:36], []byte{1, 2, 3, 4})
	copy(f[42:], serial)
	copy(f[62:66], []byte{127, 0, 0, 1})
	copy(f[66:70], []byte{255, 0, 0, 0})
	copy(f[74:80], []byte{0xde, 0xad, 0xbe, 0xef, 0, 1})
	return f
}

func biosReply() []byte {
	f := make([]byte, 42)
	copy(f, protocol.Header)
	f[9] = protocol.OpBios
	f[10] = protocol.SubOpBios
	f[12], f[13], f[14] = 4, 0, 2
	f[15] = 96
	return f
}

// devicesPage builds a page reporting readIndex and qty, holding qty records
// with hsnet ids starting at readIndex+1.
func devicesPage(readIndex, qty int) []byte {
	const headerLen = 8
	f := make([]byte, protocol.HeaderSize+3+headerLen, protocol.HeaderSize+3+headerLen+qty*protocol.DeviceRecordSize)
	copy(f, protocol.Header)
	f[9] = protocol.OpConnectedDevices
	f[10] = protocol.SubOpConnectedDevices
	f[12] = headerLen
	f[13] = protocol.DeviceRecordSize
	f[14] = byte(qty)
	binary.LittleEndian.PutUint16(f[16:18], uint16(readIndex))

	for i := 0; i < qty; i++ {
		rec := make([]byte, protocol.DeviceRecordSize)
		binary.LittleEndian.PutUint16(rec[3:5], uint16(readIndex+i+1))
		binary.LittleEndian.PutUint16(rec[5:7], 255)
		f = append(f, rec...)
	}
	for len(f) <= 22 {
		f = append(f, 0)
	}
	return f
}
