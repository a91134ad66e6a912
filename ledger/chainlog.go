package ledger

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// ChainLog is the append-only, length-framed record of every block
// ever accepted, in order. Each record is [len:u32][body][len:u32] in
// little-endian, so the log can be scanned forward from the start or
// backward from the end without an index -- the trailing length of one
// record doubles as the cue for where the previous record begins.
type ChainLog struct {
	file *os.File
}

func OpenChainLog(path string) (*ChainLog, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open chain log: %w", err)
	}
	return &ChainLog{file: f}, nil
}

func (c *ChainLog) Close() error {
	return c.file.Close()
}

func (c *ChainLog) Size() (int64, error) {
	info, err := c.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AppendBlock writes b as a new record at the end of the log.
func (c *ChainLog) AppendBlock(b Block) error {
	body := EncodeBlock(b)
	length := uint32(len(body))

	if _, err := c.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], length)
	if _, err := c.file.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := c.file.Write(body); err != nil {
		return err
	}
	if _, err := c.file.Write(lenBuf[:]); err != nil {
		return err
	}
	return nil
}

// ReadForward decodes the record starting at pos and returns it along
// with the offset of the record that follows it. io.EOF is returned
// once pos is at or past the end of the log.
func (c *ChainLog) ReadForward(pos int64) (Block, int64, error) {
	var lenBuf [4]byte
	if _, err := c.file.ReadAt(lenBuf[:], pos); err != nil {
		if err == io.EOF {
			return Block{}, 0, io.EOF
		}
		return Block{}, 0, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	body := make([]byte, length)
	if _, err := c.file.ReadAt(body, pos+4); err != nil {
		return Block{}, 0, err
	}

	blk, err := DecodeBlock(body)
	if err != nil {
		return Block{}, 0, fmt.Errorf("decode block at offset %d: %w", pos, err)
	}

	return blk, pos + 4 + int64(length) + 4, nil
}

// ReadBackward decodes the record whose trailing length field ends at
// pos and returns it along with the offset of that record's start
// (the offset ReadForward would need to read it going forward). A pos
// of 0 (or any position with nothing behind it) returns io.EOF.
func (c *ChainLog) ReadBackward(pos int64) (Block, int64, error) {
	if pos < 4 {
		return Block{}, 0, io.EOF
	}

	var lenBuf [4]byte
	if _, err := c.file.ReadAt(lenBuf[:], pos-4); err != nil {
		return Block{}, 0, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])

	start := pos - 4 - int64(length) - 4
	if start < 0 {
		return Block{}, 0, fmt.Errorf("corrupt chain log framing at offset %d", pos)
	}

	body := make([]byte, length)
	if _, err := c.file.ReadAt(body, start+4); err != nil {
		return Block{}, 0, err
	}

	blk, err := DecodeBlock(body)
	if err != nil {
		return Block{}, 0, fmt.Errorf("decode block at offset %d: %w", start, err)
	}

	return blk, start, nil
}
