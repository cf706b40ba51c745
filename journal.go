package pkgproxy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// JournalFormat identifies journal files in their header.
const JournalFormat = "pkgproxy-journal"

// maxFrame bounds a single journal frame.
const maxFrame = 16 << 20

// Serializer encodes journal frames.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// MsgpackSerializer is the default Serializer.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackSerializer) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

// JournalHeader is the first frame of a journal.
type JournalHeader struct {
	Format  string    `msgpack:"format"`
	Version string    `msgpack:"version"`
	Session string    `msgpack:"session"`
	Started time.Time `msgpack:"started"`
}

// Record is one protocol operation as seen by a TracingProvider.
type Record struct {
	Seq      uint64        `msgpack:"seq"`
	Time     time.Time     `msgpack:"time"`
	Op       string        `msgpack:"op"`
	Handle   int64         `msgpack:"handle,omitempty"`
	Name     string        `msgpack:"name,omitempty"`
	Args     []string      `msgpack:"args,omitempty"`
	Result   string        `msgpack:"result,omitempty"`
	Produced int64         `msgpack:"produced,omitempty"`
	Err      string        `msgpack:"err,omitempty"`
	Duration time.Duration `msgpack:"duration"`
}

// Journal appends length-prefixed records to a writer. It is safe for
// concurrent use.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	ser    Serializer
	pool   *framePool
	seq    uint64
	header JournalHeader
}

// NewJournal writes a header for session to w and returns a journal appending
// to it.
func NewJournal(w io.Writer, session string) (*Journal, error) {
	j := &Journal{
		w:    w,
		ser:  MsgpackSerializer{},
		pool: newFramePool(4, 16),
		header: JournalHeader{
			Format:  JournalFormat,
			Version: JournalVersion.String(),
			Session: session,
			Started: time.Now().UTC(),
		},
	}
	if err := j.writeFrame(j.header); err != nil {
		return nil, fmt.Errorf("write journal header: %w", err)
	}
	return j, nil
}

// OpenJournal creates (or truncates) the journal file at path and takes an
// exclusive advisory lock on it for the journal's lifetime.
func OpenJournal(path, session string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock journal %s: %w", path, err)
	}
	if err := f.Truncate(0); err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate journal: %w", err)
	}
	j, err := NewJournal(f, session)
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, err
	}
	j.closer = lockedFile{f}
	return j, nil
}

// Header returns the header written at the start of the journal.
func (j *Journal) Header() JournalHeader { return j.header }

// Append writes r, stamping its sequence number and time when unset.
func (j *Journal) Append(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	r.Seq = j.seq
	if r.Time.IsZero() {
		r.Time = time.Now().UTC()
	}
	if err := j.writeFrameLocked(r); err != nil {
		j.seq--
		return err
	}
	return nil
}

// Close releases the journal file, if the journal owns one.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}

func (j *Journal) writeFrame(v any) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeFrameLocked(v)
}

func (j *Journal) writeFrameLocked(v any) error {
	data, err := j.ser.Marshal(v)
	if err != nil {
		return err
	}
	if len(data) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(data))
	}
	lengthBytes := j.pool.get()[:4]
	defer j.pool.put(lengthBytes)
	binary.BigEndian.PutUint32(lengthBytes, uint32(len(data)))
	if _, err := j.w.Write(lengthBytes); err != nil {
		return err
	}
	if _, err := j.w.Write(data); err != nil {
		return err
	}
	if f, ok := j.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// ReadJournal decodes a journal written by Journal. It fails when the header
// is missing or was written by an incompatible format version.
func ReadJournal(r io.Reader) (JournalHeader, []Record, error) {
	ser := MsgpackSerializer{}
	var hdr JournalHeader
	data, err := readFrame(r)
	if err != nil {
		return hdr, nil, fmt.Errorf("read journal header: %w", err)
	}
	if err := ser.Unmarshal(data, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("decode journal header: %w", err)
	}
	if hdr.Format != JournalFormat {
		return hdr, nil, fmt.Errorf("not a journal: format %q", hdr.Format)
	}
	v, err := ParseVersion(hdr.Version)
	if err != nil {
		return hdr, nil, err
	}
	if !JournalVersion.Compatible(v) {
		return hdr, nil, fmt.Errorf("journal version %s is not compatible with %s", v, JournalVersion)
	}

	var records []Record
	for {
		data, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return hdr, records, nil
		}
		if err != nil {
			return hdr, records, fmt.Errorf("read journal record %d: %w", len(records)+1, err)
		}
		var rec Record
		if err := ser.Unmarshal(data, &rec); err != nil {
			return hdr, records, fmt.Errorf("decode journal record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}

// readFrame reads one length-prefixed frame. A clean end of input before the
// length prefix returns io.EOF; a truncated frame returns io.ErrUnexpectedEOF.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrame {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// lockedFile releases its advisory lock before closing.
type lockedFile struct {
	f *os.File
}

func (l lockedFile) Close() error {
	unlockFile(l.f)
	return l.f.Close()
}
