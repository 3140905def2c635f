package main

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/jhanssen/mtrack-sub000/internal/wire"
)

// enumerateModules re-scans /proc/self/maps and emits a Library record
// per distinct backing file plus a LibraryHeader record per mapped
// segment (its offset from the file's first mapping, which is the
// Library record's load address, and its size), the portable Go
// substitute for dl_iterate_phdr used by
// dl_iterate_phdr_callback in Hooks.cpp/Preload.cpp. /proc/self/maps
// already gives per-segment protection and the backing path, so no
// direct phdr walk is needed.
func (s *state) enumerateModules() {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		log.WithError(err).Warn("hook: could not open /proc/self/maps")
		return
	}
	defer f.Close()

	var lastPath string
	loadAddrs := make(map[string]uint64)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		addrRange, _, _, _, path, ok := parseMapsLine(sc.Text())
		if !ok || path == "" || strings.HasPrefix(path, "[") {
			continue
		}
		start, end := addrRange[0], addrRange[1]

		if path != lastPath {
			if _, seen := loadAddrs[path]; !seen {
				loadAddrs[path] = start
			}
			s.emitLibrary(path, loadAddrs[path])
			lastPath = path
		}
		s.emitLibraryHeader(start-loadAddrs[path], end-start)
	}
	s.modulesDirty.Store(false)
}

// emitLibrary announces a new backing file at loadAddr. The parser infers
// ELF vs. WASM from the path's extension (spec.md §6's Library payload
// carries no application-type byte), so none is sent here either.
func (s *state) emitLibrary(path string, loadAddr uint64) {
	s.emit(wire.RecordLibrary, func(enc *wire.Encoder) {
		enc.U8(s.appID)
		enc.String(path)
		enc.U64(loadAddr)
	})
}

func (s *state) emitLibraryHeader(addr, size uint64) {
	s.emit(wire.RecordLibraryHeader, func(enc *wire.Encoder) {
		enc.U8(s.appID)
		enc.U64(addr)
		enc.U64(size)
	})
}

// parseMapsLine splits one /proc/self/maps line into its address range,
// permission string, offset, device string, and backing path.
func parseMapsLine(line string) (addrRange [2]uint64, perms string, offset uint64, dev string, path string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return
	}
	rangeParts := strings.SplitN(fields[0], "-", 2)
	if len(rangeParts) != 2 {
		return
	}
	start, err := strconv.ParseUint(rangeParts[0], 16, 64)
	if err != nil {
		return
	}
	end, err := strconv.ParseUint(rangeParts[1], 16, 64)
	if err != nil {
		return
	}
	off, _ := strconv.ParseUint(fields[2], 16, 64)
	if len(fields) >= 6 {
		path = fields[5]
	}
	return [2]uint64{start, end}, fields[1], off, fields[3], path, true
}
