package dedup

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/bits-and-blooms/bitset"

	llmerrors "github.com/coral-nlp/llmdata/pkg/errors"
)

// Bloom state files carry a magic header, the filter geometry, the per-band
// bit arrays, and a trailing CRC32 over everything before it. Any mismatch
// on load marks the state as corrupt, which is a permanent failure.
var stateMagic = [8]byte{'L', 'L', 'M', 'B', 'L', 'O', 'O', 'M'}

const stateVersion uint32 = 1

// Save serializes the filter.
func (f *BandedBloom) Save(w io.Writer) error {
	var buf bytes.Buffer
	buf.Write(stateMagic[:])

	header := []uint32{stateVersion, uint32(len(f.bands)), uint32(f.bits), uint32(f.hashes)}
	for _, v := range header {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return llmerrors.NewCoordinatorError(err)
		}
	}
	for _, band := range f.bands {
		data, err := band.MarshalBinary()
		if err != nil {
			return llmerrors.NewCoordinatorError(err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint64(len(data))); err != nil {
			return llmerrors.NewCoordinatorError(err)
		}
		buf.Write(data)
	}

	sum := crc32.ChecksumIEEE(buf.Bytes())
	if err := binary.Write(&buf, binary.LittleEndian, sum); err != nil {
		return llmerrors.NewCoordinatorError(err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return llmerrors.NewCoordinatorError(err)
	}
	return nil
}

// LoadBloom deserializes a filter previously written with Save. Checksum or
// framing failures yield a corrupt-state error.
func LoadBloom(r io.Reader) (*BandedBloom, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, llmerrors.NewCoordinatorError(err)
	}
	if len(data) < len(stateMagic)+4 {
		return nil, llmerrors.NewCorruptStateError(fmt.Errorf("state file truncated (%d bytes)", len(data)))
	}

	payload, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(trailer) {
		return nil, llmerrors.NewCorruptStateError(fmt.Errorf("checksum mismatch"))
	}
	if !bytes.Equal(payload[:len(stateMagic)], stateMagic[:]) {
		return nil, llmerrors.NewCorruptStateError(fmt.Errorf("bad magic"))
	}

	br := bytes.NewReader(payload[len(stateMagic):])
	var version, bands, bits, hashes uint32
	for _, dst := range []*uint32{&version, &bands, &bits, &hashes} {
		if err := binary.Read(br, binary.LittleEndian, dst); err != nil {
			return nil, llmerrors.NewCorruptStateError(err)
		}
	}
	if version != stateVersion {
		return nil, llmerrors.NewCorruptStateError(fmt.Errorf("unsupported state version %d", version))
	}

	filter := &BandedBloom{bits: uint(bits), hashes: int(hashes), bands: make([]*bitset.BitSet, bands)}
	for i := range filter.bands {
		var size uint64
		if err := binary.Read(br, binary.LittleEndian, &size); err != nil {
			return nil, llmerrors.NewCorruptStateError(err)
		}
		raw := make([]byte, size)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, llmerrors.NewCorruptStateError(err)
		}
		band := &bitset.BitSet{}
		if err := band.UnmarshalBinary(raw); err != nil {
			return nil, llmerrors.NewCorruptStateError(err)
		}
		filter.bands[i] = band
	}
	return filter, nil
}
