// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package checkpoint

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"io"
	"io/ioutil"

	"github.com/grailbio/base/errors"
	"github.com/pierrec/lz4/v4"
)

// A partition is stored as a single block:
//
//	method  uint8   (methodRaw or methodLZ4)
//	rawlen  uint64  length of the gob-encoded records
//	crc     uint32  IEEE CRC of the gob-encoded records
//	payload         gob-encoded records, compressed if method is methodLZ4
//
// Records are gob-encoded as a []interface{}; their concrete types
// must be registered with encoding/gob.
const (
	methodRaw byte = iota
	methodLZ4
)

const headerSize = 1 + 8 + 4

// Encode encodes records into w, compressing the block with LZ4 if
// compress is true and the data are compressible. Encode returns the
// number of bytes written.
func Encode(w io.Writer, records []interface{}, compress bool) (int64, error) {
	var raw bytes.Buffer
	if len(records) > 0 {
		if err := gob.NewEncoder(&raw).Encode(records); err != nil {
			return 0, errors.E(errors.Invalid, "encode records", err)
		}
	}
	method, payload := methodRaw, raw.Bytes()
	if compress && raw.Len() > 0 {
		dst := make([]byte, lz4.CompressBlockBound(raw.Len()))
		n, err := lz4.CompressBlock(raw.Bytes(), dst, nil)
		if err != nil {
			return 0, fmt.Errorf("lz4 compress: %w", err)
		}
		// A zero length indicates incompressible data, which is stored raw.
		if n > 0 && n < raw.Len() {
			method, payload = methodLZ4, dst[:n]
		}
	}
	var hdr [headerSize]byte
	hdr[0] = method
	binary.LittleEndian.PutUint64(hdr[1:9], uint64(raw.Len()))
	binary.LittleEndian.PutUint32(hdr[9:13], crc32.ChecksumIEEE(raw.Bytes()))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(payload); err != nil {
		return headerSize, err
	}
	return int64(headerSize + len(payload)), nil
}

// Decode decodes a block written by Encode.
func Decode(r io.Reader) ([]interface{}, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, errors.E(errors.Invalid, "read checkpoint header", err)
	}
	rawlen := binary.LittleEndian.Uint64(hdr[1:9])
	crc := binary.LittleEndian.Uint32(hdr[9:13])
	payload, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var raw []byte
	switch hdr[0] {
	case methodRaw:
		raw = payload
	case methodLZ4:
		raw = make([]byte, rawlen)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		raw = raw[:n]
	default:
		return nil, errors.E(errors.Invalid, fmt.Sprintf("unknown checkpoint block method %d", hdr[0]))
	}
	if uint64(len(raw)) != rawlen {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("checkpoint block: expected %d bytes, got %d", rawlen, len(raw)))
	}
	if got := crc32.ChecksumIEEE(raw); got != crc {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("checkpoint block: checksum mismatch: %x != %x", got, crc))
	}
	if rawlen == 0 {
		return nil, nil
	}
	var records []interface{}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&records); err != nil {
		return nil, errors.E(errors.Invalid, "decode records", err)
	}
	return records, nil
}
