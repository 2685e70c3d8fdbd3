// Package layout holds offset-advancing helpers for fixed little-endian
// account and instruction layouts.
package layout

import (
	"encoding/binary"

	"github.com/fortiblox/locksmith/internal/types"
)

// OptionSize is the tag width of a COption field.
const OptionSize = 4

func PutKey32(dst []byte, src types.Pubkey, offset *int) {
	copy(dst[*offset:], src[:])
	*offset += types.PubkeySize
}

// PutOptionalKey32 writes a COption<Pubkey>. A nil src writes None.
func PutOptionalKey32(dst []byte, src *types.Pubkey, offset *int) {
	if src != nil {
		dst[*offset] = 1
		copy(dst[*offset+OptionSize:], src[:])
	}
	*offset += OptionSize + types.PubkeySize
}

func PutUint64(dst []byte, v uint64, offset *int) {
	binary.LittleEndian.PutUint64(dst[*offset:], v)
	*offset += 8
}

func PutInt64(dst []byte, v int64, offset *int) {
	PutUint64(dst, uint64(v), offset)
}

func PutUint8(dst []byte, v uint8, offset *int) {
	dst[*offset] = v
	*offset++
}

func PutBool(dst []byte, v bool, offset *int) {
	var b uint8
	if v {
		b = 1
	}
	PutUint8(dst, b, offset)
}

// PutOptionalUint64 writes a COption<u64>. A nil v writes None.
func PutOptionalUint64(dst []byte, v *uint64, offset *int) {
	if v != nil {
		dst[*offset] = 1
		binary.LittleEndian.PutUint64(dst[*offset+OptionSize:], *v)
	}
	*offset += OptionSize + 8
}

func GetKey32(src []byte, dst *types.Pubkey, offset *int) {
	copy(dst[:], src[*offset:])
	*offset += types.PubkeySize
}

func GetOptionalKey32(src []byte, dst **types.Pubkey, offset *int) {
	*dst = nil
	if src[*offset] == 1 {
		var k types.Pubkey
		copy(k[:], src[*offset+OptionSize:])
		*dst = &k
	}
	*offset += OptionSize + types.PubkeySize
}

func GetUint64(src []byte, dst *uint64, offset *int) {
	*dst = binary.LittleEndian.Uint64(src[*offset:])
	*offset += 8
}

func GetInt64(src []byte, dst *int64, offset *int) {
	*dst = int64(binary.LittleEndian.Uint64(src[*offset:]))
	*offset += 8
}

func GetUint8(src []byte, dst *uint8, offset *int) {
	*dst = src[*offset]
	*offset++
}

func GetBool(src []byte, dst *bool, offset *int) {
	*dst = src[*offset] != 0
	*offset++
}

func GetOptionalUint64(src []byte, dst **uint64, offset *int) {
	*dst = nil
	if src[*offset] == 1 {
		v := binary.LittleEndian.Uint64(src[*offset+OptionSize:])
		*dst = &v
	}
	*offset += OptionSize + 8
}
