package source

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gift01-source/Camera/internal/vision"
)

func encodeTestJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i % 251)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newLoopbackSource(t *testing.T) (*UDPSource, *net.UDPConn) {
	t.Helper()
	src, err := NewUDPSource(UDPConfig{Address: "127.0.0.1:0", ReadTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	sender, err := net.Dial("udp", src.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { sender.Close() })
	return src, sender.(*net.UDPConn)
}

func TestUDPSourceReceivesFrames(t *testing.T) {
	t.Parallel()

	src, sender := newLoopbackSource(t)
	payload := encodeTestJPEG(t, 16, 12)

	_, err := sender.Write(payload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := src.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, vision.FormatJPEG, frame.Format)
	assert.Equal(t, 16, frame.Width)
	assert.Equal(t, 12, frame.Height)
	assert.Equal(t, payload, frame.Data)
	assert.False(t, frame.Timestamp.IsZero())

	st := src.Stats()
	assert.Equal(t, uint64(1), st.Packets)
	assert.Zero(t, st.BadPackets)
	assert.Equal(t, uint64(len(payload)), st.Bytes)
}

func TestUDPSourceSkipsMalformedDatagrams(t *testing.T) {
	t.Parallel()

	src, sender := newLoopbackSource(t)
	_, err := sender.Write([]byte("definitely not a jpeg"))
	require.NoError(t, err)
	payload := encodeTestJPEG(t, 8, 8)
	_, err = sender.Write(payload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, frame.Data)

	st := src.Stats()
	assert.Equal(t, uint64(2), st.Packets)
	assert.Equal(t, uint64(1), st.BadPackets)
}

func TestUDPSourceCloseUnblocksNext(t *testing.T) {
	t.Parallel()

	src, _ := newLoopbackSource(t)
	errCh := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, io.EOF)
	case <-time.After(5 * time.Second):
		t.Fatal("Next never returned after Close")
	}
}

func TestUDPSourceHonoursContext(t *testing.T) {
	t.Parallel()

	src, _ := newLoopbackSource(t)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := src.Next(ctx)
		errCh <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Next never noticed cancellation")
	}
}

func TestUDPSourceBindsEphemeralPort(t *testing.T) {
	t.Parallel()

	src, err := NewUDPSource(UDPConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	defer src.Close()

	addr, ok := src.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
}
