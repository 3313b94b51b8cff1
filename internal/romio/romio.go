// This file is part of NCPatcher.
//
// NCPatcher is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// NCPatcher is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with NCPatcher.  If not, see <https://www.gnu.org/licenses/>.

// Package romio loads and saves the binary artifacts the patch engine reads
// and rewrites: an ARM binary's module parameters and autoload list, the
// overlay table, and individual overlay payloads. It also owns the
// first-touch backup policy: the very first time a path is loaded, a
// byte-identical copy is stashed in a backup directory so that later runs
// patch the pristine original rather than an already-patched file.
package romio

import (
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/crunched"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"golang.org/x/sys/unix"
)

const (
	minArmBinarySize = 4
	minRomHeaderSize = 512
	ovtEntrySize      = 32
)

// ModuleParams is the fixed-layout header embedded in an ARM binary that
// tells the patch engine where its autoload list and compressed region are.
type ModuleParams struct {
	AutoloadListStart   uint32
	AutoloadListEnd     uint32
	AutoloadStart       uint32 // hole new autoload code/list entries are spliced into
	BssStart            uint32
	BssEnd              uint32
	CompressedStaticEnd uint32 // 0 if the static region is not compressed
}

// autoloadRecordSize is the size of one {address, size, bss_size} entry.
const autoloadRecordSize = 12

// AutoloadEntry is one record from an ARM binary's autoload list.
type AutoloadEntry struct {
	Address uint32
	Size    uint32
	BssSize uint32

	// DataOffset is the binary's own sliding offset into the compressed or
	// uncompressed data stream that backs this entry, computed while
	// walking the list.
	DataOffset uint32
}

// ArmBinary is a loaded ARM7/ARM9 binary together with the metadata
// recovered from its ModuleParams header.
type ArmBinary struct {
	Path   string
	Data   []byte
	Params ModuleParams

	ParamsOffset int
	Autoload     []AutoloadEntry

	entryAddr uint32
	ramAddr   uint32
}

// RamAddr returns the address this binary is loaded at in the target's
// address space.
func (b *ArmBinary) RamAddr() uint32 { return b.ramAddr }

// EntryAddr returns the binary's configured entry address.
func (b *ArmBinary) EntryAddr() uint32 { return b.entryAddr }

// Offset converts a ROM address within this binary to a byte offset into
// Data, or ok=false if addr lies outside the binary's current extent.
func (b *ArmBinary) Offset(addr uint32) (int, bool) {
	off := int(addr - b.ramAddr)
	if off < 0 || off > len(b.Data) {
		return 0, false
	}
	return off, true
}

// SanityCheckAddress reports whether addr falls in the 4MB window above
// this binary's load address, the same coarse bound the autoload-hook and
// arena-lo signature scanners use to reject false-positive matches.
func (b *ArmBinary) SanityCheckAddress(addr uint32) bool {
	return addr >= b.ramAddr && addr < b.ramAddr+0x00400000
}

// FlushModuleParams serialises the (possibly mutated) Params struct back
// into Data at ParamsOffset. Callers that splice the autoload list must
// call this once they are done rewriting Params in place.
func (b *ArmBinary) FlushModuleParams() {
	off := b.ParamsOffset
	byteio.WriteU32LE(b.Data, off, b.Params.AutoloadListStart)
	byteio.WriteU32LE(b.Data, off+4, b.Params.AutoloadListEnd)
	byteio.WriteU32LE(b.Data, off+8, b.Params.AutoloadStart)
	byteio.WriteU32LE(b.Data, off+12, b.Params.BssStart)
	byteio.WriteU32LE(b.Data, off+16, b.Params.BssEnd)
	byteio.WriteU32LE(b.Data, off+20, b.Params.CompressedStaticEnd)
}

// OvtEntry is one entry in the overlay table, the fixed 32-byte record the
// console's loader reads at boot to find, size, and (if flagged) decompress
// each overlay.
type OvtEntry struct {
	OverlayID       uint32
	RamAddress      uint32
	RamSize         uint32
	BssSize         uint32
	SinitStart      uint32
	SinitEnd        uint32
	FileID          uint32
	CompressedSize  uint32 // low 24 bits size, high 8 bits flag
}

// Compressed reports whether this entry's flag byte marks its file payload
// as BLZ-compressed.
func (e OvtEntry) Compressed() bool {
	return e.Flag()&1 != 0
}

// Size returns the compressed-size field (low 24 bits of CompressedSize).
func (e OvtEntry) Size() uint32 {
	return e.CompressedSize & 0x00ffffff
}

// Flag returns the flag byte (high 8 bits of CompressedSize).
func (e OvtEntry) Flag() uint8 {
	return uint8(e.CompressedSize >> 24)
}

// SetSizeFlag packs size (low 24 bits) and flag (high 8 bits) back into
// CompressedSize.
func (e *OvtEntry) SetSizeFlag(size uint32, flag uint8) {
	e.CompressedSize = (size & 0x00ffffff) | uint32(flag)<<24
}

// OverlayBin is a loaded overlay payload.
type OverlayBin struct {
	Path      string
	OverlayID int
	RamAddr   uint32
	Data      crunched.Data

	// Dirty is set the first time the overlay's bytes are mutated by a
	// later pipeline stage (the ROM rewriter). Only dirty overlays are
	// re-saved and re-compressed on write-back.
	Dirty bool

	// pristine holds the pristine (decompressed) bytes captured the first
	// time this overlay is touched, for the backup-restore path.
	pristine []byte
}

// MarkDirty records that this overlay's bytes have been mutated, capturing
// a pristine copy the first time it is called.
func (o *OverlayBin) MarkDirty() {
	if !o.Dirty {
		data := *o.Data.Inspect()
		o.pristine = make([]byte, len(data))
		copy(o.pristine, data)
	}
	o.Dirty = true
}

// BackupDir configures where first-touch backups are written. A zero value
// disables backups entirely (used by tests).
type BackupDir struct {
	Path string
}

// ensure acquires an advisory lock on the backup directory for the duration
// of fn, so that two concurrent patch runs never race on the same backup
// file.
func (b BackupDir) ensure(fn func() error) error {
	if b.Path == "" {
		return fn()
	}
	if err := os.MkdirAll(b.Path, 0o755); err != nil {
		return curated.Errorf(curated.FileUnwritable, b.Path, err)
	}
	lockPath := filepath.Join(b.Path, ".lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return curated.Errorf(curated.FileUnwritable, lockPath, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return curated.Errorf(curated.FileUnwritable, lockPath, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}

// backupPath returns where the backup of path would live.
func (b BackupDir) backupPath(path string) string {
	return filepath.Join(b.Path, filepath.Base(path)+".orig")
}

// loadWithBackup reads path, preferring an existing backup if one exists,
// and otherwise creates the backup from the freshly read bytes.
func loadWithBackup(b BackupDir, path string) ([]byte, error) {
	var data []byte
	err := b.ensure(func() error {
		if b.Path != "" {
			if bak, err := os.ReadFile(b.backupPath(path)); err == nil {
				data = bak
				return nil
			}
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return curated.Errorf(curated.FileNotFound, path)
		}
		data = raw

		if b.Path != "" {
			if err := os.WriteFile(b.backupPath(path), raw, 0o644); err != nil {
				return curated.Errorf(curated.FileUnwritable, b.backupPath(path), err)
			}
		}
		return nil
	})
	return data, err
}

// Hashes returns the SHA1 and MD5 digests of data, matching the dual-hash
// convention used elsewhere in this project for cartridge identification.
func Hashes(data []byte) (sha1Hex, md5Hex string) {
	return fmt.Sprintf("%x", sha1.Sum(data)), fmt.Sprintf("%x", md5.Sum(data))
}

// LoadArm loads and parses an ARM binary at path.
//
// entryAddr and ramAddr describe where the binary will be placed in the
// target's address space; autoloadHookOff is the RAM address of the
// autoload hook recorded in the ROM header, and the word 4 bytes before it
// holds the address of ModuleParams. module_params_off
// is derived as u32@(autoloadHookOff-ramAddr-4) - ramAddr, per the binary's
// own hook-relative addressing convention.
func LoadArm(path string, entryAddr, ramAddr, autoloadHookOff uint32, backup BackupDir, decode crunched.Decoder) (*ArmBinary, error) {
	data, err := loadWithBackup(backup, path)
	if err != nil {
		return nil, err
	}
	if len(data) < minArmBinarySize {
		return nil, curated.Errorf(curated.CorruptROMFile, path, fmt.Sprintf("ARM binary is smaller than the minimum %d bytes", minArmBinarySize))
	}

	hookRelOff := int(autoloadHookOff - ramAddr - 4)
	if !byteio.InBounds(data, hookRelOff, 4) {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "autoload hook offset is out of range")
	}
	moduleParamsOff := int(byteio.ReadU32LE(data, hookRelOff) - ramAddr)
	return loadArmFromModuleParams(path, data, entryAddr, ramAddr, moduleParamsOff, decode)
}

// nitroCodeBE and nitroCodeLE are the two words NCP_ModuleParams (the
// devkitPro crt0 structure) is anchored to: every compiled ARM9 binary
// carries this pair, in this order, at moduleParamsOff+0x1C.
const (
	nitroCodeBE = 0xDEC00621
	nitroCodeLE = 0x2106C0DE
)

// LoadArmAuto loads the ARM binary at path the way LoadArm does, but
// recovers moduleParamsOff itself by scanning the first 0x400 bytes past
// the entry point for the NitroCode signature pair, rather than requiring
// the caller to already know where a pointer to it is stored. This is the
// discovery technique the original tool's ARM loader uses when the target
// doesn't otherwise name an autoload hook offset.
func LoadArmAuto(path string, entryAddr, ramAddr uint32, backup BackupDir, decode crunched.Decoder) (*ArmBinary, error) {
	data, err := loadWithBackup(backup, path)
	if err != nil {
		return nil, err
	}
	if len(data) < minArmBinarySize {
		return nil, curated.Errorf(curated.CorruptROMFile, path, fmt.Sprintf("ARM binary is smaller than the minimum %d bytes", minArmBinarySize))
	}

	entryOff := int(entryAddr - ramAddr)
	moduleParamsOff := -1
	for i := entryOff; i+8 <= len(data) && i < entryOff+0x400; i += 4 {
		if byteio.ReadU32LE(data, i) == nitroCodeBE && byteio.ReadU32LE(data, i+4) == nitroCodeLE {
			moduleParamsOff = i - 0x1C
			break
		}
	}
	if moduleParamsOff < 0 {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "could not locate ModuleParams (NitroCode signature not found)")
	}

	return loadArmFromModuleParams(path, data, entryAddr, ramAddr, moduleParamsOff, decode)
}

// loadArmFromModuleParams finishes loading an ARM binary once
// moduleParamsOff has been recovered, by either of LoadArm's or
// LoadArmAuto's means: it decodes the ModuleParams header, decompresses the
// static region if one is marked, and walks the autoload list.
func loadArmFromModuleParams(path string, data []byte, entryAddr, ramAddr uint32, moduleParamsOff int, decode crunched.Decoder) (*ArmBinary, error) {
	if !byteio.InBounds(data, moduleParamsOff, 24) {
		return nil, curated.Errorf(curated.CorruptROMFile, path, "module params offset is out of range")
	}

	params := ModuleParams{
		AutoloadListStart:   byteio.ReadU32LE(data, moduleParamsOff),
		AutoloadListEnd:     byteio.ReadU32LE(data, moduleParamsOff+4),
		AutoloadStart:       byteio.ReadU32LE(data, moduleParamsOff+8),
		BssStart:            byteio.ReadU32LE(data, moduleParamsOff+12),
		BssEnd:              byteio.ReadU32LE(data, moduleParamsOff+16),
		CompressedStaticEnd: byteio.ReadU32LE(data, moduleParamsOff+20),
	}

	if params.CompressedStaticEnd != 0 {
		end := int(params.CompressedStaticEnd - ramAddr)
		if !byteio.InBounds(data, 0, end) {
			return nil, curated.Errorf(curated.CorruptROMFile, path, "compressed static end is out of range")
		}
		region := crunched.New(data[:end], end, true, decode)
		uncompressed, err := region.Decompress()
		if err != nil {
			return nil, curated.Errorf(curated.CorruptROMFile, path, err)
		}
		rebuilt := make([]byte, 0, len(*uncompressed)+len(data)-end)
		rebuilt = append(rebuilt, (*uncompressed)...)
		rebuilt = append(rebuilt, data[end:]...)
		data = rebuilt

		byteio.WriteU32LE(data, moduleParamsOff+20, 0)
		params.CompressedStaticEnd = 0
	}

	var autoload []AutoloadEntry
	dataOff := uint32(0)
	for off := params.AutoloadListStart; off < params.AutoloadListEnd; off += autoloadRecordSize {
		rel := int(off - ramAddr)
		if !byteio.InBounds(data, rel, autoloadRecordSize) {
			return nil, curated.Errorf(curated.CorruptROMFile, path, "autoload list entry is out of range")
		}
		entry := AutoloadEntry{
			Address:    byteio.ReadU32LE(data, rel),
			Size:       byteio.ReadU32LE(data, rel+4),
			BssSize:    byteio.ReadU32LE(data, rel+8),
			DataOffset: dataOff,
		}
		autoload = append(autoload, entry)
		dataOff += entry.Size
	}

	return &ArmBinary{
		Path:         path,
		Data:         data,
		Params:       params,
		ParamsOffset: moduleParamsOff,
		Autoload:     autoload,
		entryAddr:    entryAddr,
		ramAddr:      ramAddr,
	}, nil
}

// SaveArm writes the binary's current in-memory bytes to dest.
func SaveArm(bin *ArmBinary, dest string) error {
	if err := os.WriteFile(dest, bin.Data, 0o644); err != nil {
		return curated.Errorf(curated.FileUnwritable, dest, err)
	}
	return nil
}

// LoadOverlayTable reads the fixed-size array of OvtEntry records at path.
func LoadOverlayTable(path string, backup BackupDir) ([]OvtEntry, []byte, error) {
	data, err := loadWithBackup(backup, path)
	if err != nil {
		return nil, nil, err
	}
	if len(data)%ovtEntrySize != 0 {
		return nil, nil, curated.Errorf(curated.CorruptROMFile, path, "overlay table size is not a multiple of the entry size")
	}

	n := len(data) / ovtEntrySize
	out := make([]OvtEntry, n)
	for i := 0; i < n; i++ {
		off := i * ovtEntrySize
		out[i] = OvtEntry{
			OverlayID:      byteio.ReadU32LE(data, off),
			RamAddress:     byteio.ReadU32LE(data, off+4),
			RamSize:        byteio.ReadU32LE(data, off+8),
			BssSize:        byteio.ReadU32LE(data, off+12),
			SinitStart:     byteio.ReadU32LE(data, off+16),
			SinitEnd:       byteio.ReadU32LE(data, off+20),
			FileID:         byteio.ReadU32LE(data, off+24),
			CompressedSize: byteio.ReadU32LE(data, off+28),
		}
	}
	return out, data, nil
}

// SaveOverlayTable writes entries back into raw (a copy of the bytes
// returned alongside LoadOverlayTable) and writes the result to dest.
func SaveOverlayTable(entries []OvtEntry, raw []byte, dest string) error {
	out := make([]byte, len(raw))
	copy(out, raw)
	for i, e := range entries {
		off := i * ovtEntrySize
		if !byteio.InBounds(out, off, ovtEntrySize) {
			return curated.Errorf(curated.CorruptROMFile, dest, fmt.Sprintf("overlay table entry %d is out of range", i))
		}
		byteio.WriteU32LE(out, off, e.OverlayID)
		byteio.WriteU32LE(out, off+4, e.RamAddress)
		byteio.WriteU32LE(out, off+8, e.RamSize)
		byteio.WriteU32LE(out, off+12, e.BssSize)
		byteio.WriteU32LE(out, off+16, e.SinitStart)
		byteio.WriteU32LE(out, off+20, e.SinitEnd)
		byteio.WriteU32LE(out, off+24, e.FileID)
		byteio.WriteU32LE(out, off+28, e.CompressedSize)
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return curated.Errorf(curated.FileUnwritable, dest, err)
	}
	return nil
}

// LoadOverlay reads the payload for ovtEntry at path. With backups enabled,
// an overlay flagged as compressed is decompressed in memory and entry (the
// caller's in-memory table entry) gets the uncompressed size with the
// "compressed" flag cleared. The backup file holds the bytes as read, still
// compressed, and the backed-up overlay table is not modified.
func LoadOverlay(path string, entry *OvtEntry, backup BackupDir, decode crunched.Decoder) (*OverlayBin, error) {
	data, err := loadWithBackup(backup, path)
	if err != nil {
		return nil, err
	}

	crunchedFlag := entry.Compressed()
	d := crunched.New(data, len(data), crunchedFlag, decode)
	if crunchedFlag && backup.Path != "" {
		uncompressed, err := d.Decompress()
		if err != nil {
			return nil, curated.Errorf(curated.CorruptROMFile, path, err)
		}
		entry.SetSizeFlag(uint32(len(*uncompressed)), 0)
		d = crunched.New(*uncompressed, len(*uncompressed), false, decode)
	}

	return &OverlayBin{
		Path:      path,
		OverlayID: int(entry.OverlayID),
		RamAddr:   entry.RamAddress,
		Data:      d,
	}, nil
}

// SaveOverlay writes ov's current bytes (inspected, not forcibly
// decompressed) to dest.
func SaveOverlay(ov *OverlayBin, dest string) error {
	data := ov.Data.Inspect()
	if err := os.WriteFile(dest, *data, 0o644); err != nil {
		return curated.Errorf(curated.FileUnwritable, dest, err)
	}
	return nil
}
