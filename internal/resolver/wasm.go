package resolver

import (
	"debug/dwarf"
	"encoding/binary"
	"io"
	"os"
)

// newWASMModule scans a WebAssembly binary's custom sections for the
// standard DWARF debug-info names (.debug_info, .debug_abbrev, etc,
// per the WebAssembly "Name Section" / DWARF convention) and feeds the
// raw section bytes straight into dwarf.New. This is a direct
// Go-idiomatic replacement for Module.cpp's hand-rolled read_uleb walk
// over the WASM section table, which exists there only because the
// original had no ready-made WASM container parser; Go's dwarf.New
// already accepts bare section byte slices, so no libbacktrace
// equivalent is needed at all.
func newWASMModule(filename string) (*debugInfo, []elfSymbol) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, nil
	}
	defer f.Close()

	sections, err := scanWASMSections(f)
	if err != nil {
		return nil, nil
	}

	required := []string{"abbrev", "aranges", "frame", "info", "line", "pubnames", "ranges", "str"}
	args := make([][]byte, len(required))
	for i, name := range required {
		args[i] = sections[".debug_"+name]
	}
	d, err := dwarf.New(args[0], args[1], args[2], args[3], args[4], args[5], args[6], args[7])
	if err != nil || args[3] == nil {
		return nil, nil
	}
	return buildDebugInfo(d), nil
}

const wasmCustomSectionID = 0

// scanWASMSections walks a WASM module's top-level section table and
// returns the payload bytes of every custom section, keyed by its name.
func scanWASMSections(r io.Reader) (map[string][]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[0:4]) != 0x6d736100 { // "\0asm"
		return nil, io.ErrUnexpectedEOF
	}

	out := make(map[string][]byte)
	for {
		id, err := readByte(r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		size, err := readULEB128(r)
		if err != nil {
			return nil, err
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
		if id == wasmCustomSectionID {
			name, rest, err := readWASMName(payload)
			if err == nil {
				out[name] = rest
			}
		}
	}
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

// readULEB128 decodes an unsigned LEB128 integer from r, the same
// variable-length encoding WASM uses throughout its binary format and
// that Module.cpp's read_uleb implements by hand.
func readULEB128(r io.Reader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := readByte(r)
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, io.ErrUnexpectedEOF
		}
	}
}

func uleb128Bytes(buf []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, b := range buf {
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return 0, 0
}

func readWASMName(payload []byte) (name string, rest []byte, err error) {
	n, consumed := uleb128Bytes(payload)
	if consumed == 0 || uint64(consumed)+n > uint64(len(payload)) {
		return "", nil, io.ErrUnexpectedEOF
	}
	name = string(payload[consumed : consumed+int(n)])
	return name, payload[consumed+int(n):], nil
}
