package replay

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"

	tserrors "github.com/arkilian/taxistream/internal/errors"
	"github.com/arkilian/taxistream/pkg/types"
)

type codec int

const (
	codecPlain codec = iota
	codecGzip
	codecSnappy
)

func (c codec) String() string {
	switch c {
	case codecGzip:
		return "gzip"
	case codecSnappy:
		return "snappy"
	default:
		return "plain"
	}
}

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// maxLineSize bounds a single encoded ride, line terminator included. Longer
// lines are skipped as malformed.
const maxLineSize = 1 << 20

func detectCodec(br *bufio.Reader) codec {
	head, _ := br.Peek(len(snappyMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return codecGzip
	case bytes.HasPrefix(head, snappyMagic):
		return codecSnappy
	default:
		return codecPlain
	}
}

// rideReader yields rides from a possibly compressed file, one line at a time.
type rideReader struct {
	file   *os.File
	decomp io.Closer
	src    *bufio.Reader
	buf    []byte
	codec  codec
	line   int
}

// openRideFile opens path and checks that its compression header is readable.
func openRideFile(path string) (*rideReader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, tserrors.NewFileUnreadableError(path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, tserrors.NewFileUnreadableError(path, fmt.Errorf("not a regular file"))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, tserrors.NewFileUnreadableError(path, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	r := &rideReader{file: f, codec: detectCodec(br)}

	var src io.Reader
	switch r.codec {
	case codecGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, tserrors.NewFileUnreadableError(path, fmt.Errorf("invalid gzip header: %w", err))
		}
		r.decomp = gz
		src = gz
	case codecSnappy:
		src = snappy.NewReader(br)
	default:
		src = br
	}

	r.src = bufio.NewReaderSize(src, 64*1024)
	return r, nil
}

// next returns the next well-formed ride. Malformed lines are reported to
// onMalformed and skipped. ok is false at end of input.
func (r *rideReader) next(onMalformed func(line int, err error)) (ride types.RideEvent, ok bool, err error) {
	for {
		raw, tooLong, err := r.readLine()
		if err == io.EOF {
			return types.RideEvent{}, false, nil
		}
		if err != nil {
			return types.RideEvent{}, false, tserrors.NewStreamIOError(fmt.Sprintf("read failed after line %d", r.line), err)
		}
		r.line++
		if tooLong {
			onMalformed(r.line, tserrors.NewMalformedRecordError(r.line, fmt.Sprintf("line exceeds %d bytes", maxLineSize), nil))
			continue
		}
		text := string(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}
		ride, perr := ParseRide(text)
		if perr != nil {
			onMalformed(r.line, tserrors.NewMalformedRecordError(r.line, perr.Error(), perr))
			continue
		}
		return ride, true, nil
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxLineSize is consumed up to its newline and reported with tooLong set.
// io.EOF is returned only when no bytes remain.
func (r *rideReader) readLine() (line []byte, tooLong bool, err error) {
	r.buf = r.buf[:0]
	read := 0
	for {
		chunk, err := r.src.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(r.buf)+len(chunk) > maxLineSize {
				tooLong = true
				r.buf = r.buf[:0]
			} else {
				r.buf = append(r.buf, chunk...)
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && read > 0:
		case err != nil:
			return nil, false, err
		}
		break
	}
	if tooLong {
		return nil, true, nil
	}
	return bytes.TrimRight(r.buf, "\r\n"), false, nil
}

func (r *rideReader) Close() error {
	if r.decomp != nil {
		r.decomp.Close()
	}
	return r.file.Close()
}
