// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package partition

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/spaolacci/murmur3"
)

// DefaultSeed is the hash seed used to assign shuffle partitions.
const DefaultSeed = 0x9e3779b9

// A Hasher is a record type that provides its own hash. Records that
// compare equal must hash equally.
type Hasher interface {
	HashWithSeed(seed uint32) uint32
}

// Hash returns a 32-bit hash of the value v. Values that compare equal
// with == hash equally. Built-in scalar types are hashed by value;
// other types are hashed by their %v rendering unless they implement
// Hasher.
func Hash(v interface{}, seed uint32) uint32 {
	var b [8]byte
	switch v := v.(type) {
	case nil:
		return murmur3.Sum32WithSeed(nil, seed)
	case Hasher:
		return v.HashWithSeed(seed)
	case string:
		return murmur3.Sum32WithSeed([]byte(v), seed)
	case []byte:
		return murmur3.Sum32WithSeed(v, seed)
	case bool:
		if v {
			b[0] = 1
		}
		return murmur3.Sum32WithSeed(b[:1], seed)
	case int:
		return hash64(uint64(v), seed)
	case int8:
		return hash64(uint64(v), seed)
	case int16:
		return hash64(uint64(v), seed)
	case int32:
		return hash64(uint64(v), seed)
	case int64:
		return hash64(uint64(v), seed)
	case uint:
		return hash64(uint64(v), seed)
	case uint8:
		return hash64(uint64(v), seed)
	case uint16:
		return hash64(uint64(v), seed)
	case uint32:
		return hash64(uint64(v), seed)
	case uint64:
		return hash64(v, seed)
	case uintptr:
		return hash64(uint64(v), seed)
	case float32:
		return hashFloat(float64(v), seed)
	case float64:
		return hashFloat(v, seed)
	}
	return murmur3.Sum32WithSeed([]byte(fmt.Sprintf("%T:%v", v, v)), seed)
}

// Of returns the shuffle partition of v among n partitions.
func Of(v interface{}, n int) int {
	if n <= 1 {
		return 0
	}
	return int(Hash(v, DefaultSeed) % uint32(n))
}

func hash64(x uint64, seed uint32) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], x)
	return murmur3.Sum32WithSeed(b[:], seed)
}

func hashFloat(f float64, seed uint32) uint32 {
	if f == 0 {
		// Both +0 and -0.
		f = 0
	}
	return hash64(math.Float64bits(f), seed)
}
