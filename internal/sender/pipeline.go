package sender

import (
	"context"
	"fmt"
	"io"
	"time"

	"ftx/internal/checksum"
	"ftx/internal/protocol"
	"ftx/internal/transport"

	"github.com/sirupsen/logrus"
)

// pipeline sends the file body with two alternating buffers: while one Data
// frame is on the wire, the next chunk is read from disk into the other.
// At most one read and one send are outstanding at any time.
type pipeline struct {
	engine *Engine
	src    io.Reader
	tr     transport.Transport
	crc    *checksum.Accumulator

	sent   uint64
	total  uint64
	resume uint64
	start  time.Time
}

type filled struct {
	buf []byte
	n   int
	err error
}

func (p *pipeline) run(ctx context.Context) error {
	if p.sent >= p.total {
		return nil
	}

	size := p.engine.chunkSize
	bufs := [2][]byte{
		make([]byte, protocol.DataHeaderSize+size),
		make([]byte, protocol.DataHeaderSize+size),
	}
	reads := make(chan filled, 1)
	remaining := p.total - p.sent

	// next starts reading the following chunk into buf and returns how many
	// bytes it asked for.
	next := func(buf []byte) uint64 {
		want := min(uint64(size), remaining)
		go func() {
			n, err := readChunk(p.src, buf[protocol.DataHeaderSize:protocol.DataHeaderSize+want])
			reads <- filled{buf: buf, n: n, err: err}
		}()
		return want
	}

	if err := checkCancelled(ctx); err != nil {
		return err
	}
	pending := next(bufs[0])
	cur := 0

	for {
		c := <-reads
		if c.err != nil {
			return fmt.Errorf("read local file: %w", c.err)
		}
		remaining -= pending
		payload := c.buf[protocol.DataHeaderSize : protocol.DataHeaderSize+c.n]
		_, _ = p.crc.Write(payload)

		if err := checkCancelled(ctx); err != nil {
			return err
		}
		if remaining > 0 {
			pending = next(bufs[1-cur])
		}

		protocol.PutDataHeader(c.buf, c.n)
		if err := p.tr.Send(ctx, c.buf[:protocol.DataHeaderSize+c.n]); err != nil {
			if remaining > 0 {
				// Let the outstanding read finish before the file is closed.
				<-reads
			}
			return wrapTransport(ctx, err)
		}
		p.sent += uint64(c.n)

		logrus.WithFields(logrus.Fields{
			"function": "pipeline.run",
			"chunk":    c.n,
			"sent":     p.sent,
			"total":    p.total,
		}).Debug("Chunk sent")
		p.engine.report(p.sent, p.total, p.resume, p.start)

		if remaining == 0 {
			return nil
		}
		cur = 1 - cur
	}
}
