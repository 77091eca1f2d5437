package container

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/dmitrijs2005/gokdbx/internal/common"
	"github.com/dmitrijs2005/gokdbx/internal/cryptox"
)

// BlockSize is the payload size of every block but the last when writing.
const BlockSize = 1 << 20

// readHashedBlocks reassembles the KDBX3 block stream
// (index u32, sha256, size u32, data) that sits inside the ciphertext.
func readHashedBlocks(data []byte) ([]byte, error) {
	var out bytes.Buffer
	pos := 0
	for index := uint32(0); ; index++ {
		if pos+40 > len(data) {
			return nil, common.Corrupt("hashed block %d: truncated", index)
		}
		if got := binary.LittleEndian.Uint32(data[pos:]); got != index {
			return nil, common.Corrupt("hashed block: index %d, want %d", got, index)
		}
		hash := data[pos+4 : pos+36]
		size := int(binary.LittleEndian.Uint32(data[pos+36:]))
		pos += 40
		if size == 0 {
			if !bytes.Equal(hash, make([]byte, 32)) {
				return nil, common.Corrupt("hashed block %d: bad terminator hash", index)
			}
			return out.Bytes(), nil
		}
		if size < 0 || pos+size > len(data) {
			return nil, common.Corrupt("hashed block %d: size %d out of range", index, size)
		}
		block := data[pos : pos+size]
		if !cryptox.Equal(cryptox.Sha256(block), hash) {
			return nil, common.Corrupt("hashed block %d: hash mismatch", index)
		}
		out.Write(block)
		pos += size
	}
}

func writeHashedBlocks(payload []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(payload) + (len(payload)/BlockSize+2)*40)
	index := uint32(0)
	for len(payload) > 0 {
		n := min(len(payload), BlockSize)
		block := payload[:n]
		_ = binary.Write(&out, binary.LittleEndian, index)
		out.Write(cryptox.Sha256(block))
		_ = binary.Write(&out, binary.LittleEndian, uint32(n))
		out.Write(block)
		payload = payload[n:]
		index++
	}
	_ = binary.Write(&out, binary.LittleEndian, index)
	out.Write(make([]byte, 32))
	_ = binary.Write(&out, binary.LittleEndian, uint32(0))
	return out.Bytes()
}

func blockTag(hmacBase []byte, index uint64, data []byte) []byte {
	key := cryptox.HmacBlockKey(index, hmacBase)
	defer cryptox.Wipe(key)
	var prefix [12]byte
	binary.LittleEndian.PutUint64(prefix[:8], index)
	binary.LittleEndian.PutUint32(prefix[8:], uint32(len(data)))
	return cryptox.HmacSha256(key, prefix[:], data)
}

// readHmacBlocks verifies and concatenates the KDBX4 HMAC block stream
// (hmac32, size i32, data). The stream must end with a zero-length block
// and nothing may follow it.
func readHmacBlocks(data, hmacBase []byte) ([]byte, error) {
	var out bytes.Buffer
	pos := 0
	for index := uint64(0); ; index++ {
		if pos+36 > len(data) {
			return nil, common.Corrupt("hmac block %d: truncated", index)
		}
		tag := data[pos : pos+32]
		size := int(int32(binary.LittleEndian.Uint32(data[pos+32:])))
		pos += 36
		if size < 0 || pos+size > len(data) {
			return nil, common.Corrupt("hmac block %d: size %d out of range", index, size)
		}
		block := data[pos : pos+size]
		if !cryptox.Equal(blockTag(hmacBase, index, block), tag) {
			return nil, common.Corrupt("hmac block %d: tag mismatch", index)
		}
		pos += size
		if size == 0 {
			if pos != len(data) {
				return nil, common.Corrupt("%d bytes after final hmac block", len(data)-pos)
			}
			return out.Bytes(), nil
		}
		out.Write(block)
	}
}

func writeHmacBlocks(payload, hmacBase []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(payload) + (len(payload)/BlockSize+2)*36)
	write := func(index uint64, block []byte) {
		out.Write(blockTag(hmacBase, index, block))
		_ = binary.Write(&out, binary.LittleEndian, int32(len(block)))
		out.Write(block)
	}
	index := uint64(0)
	for len(payload) > 0 {
		n := min(len(payload), BlockSize, math.MaxInt32)
		write(index, payload[:n])
		payload = payload[n:]
		index++
	}
	write(index, nil)
	return out.Bytes()
}
