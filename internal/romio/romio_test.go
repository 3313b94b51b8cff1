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

package romio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/byteio"
	"github.com/jetsetilly/ncpatcher/internal/romio"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

const ramAddr = uint32(0x02000000)

func buildArmBinary() (data []byte, autoloadHookOff uint32) {
	// layout: [0:4) hook instruction word carrying module_params addr,
	// [4:28) ModuleParams, [28:40) one autoload entry, [40:44) payload
	data = make([]byte, 44)
	moduleParamsAddr := ramAddr + 4
	byteio.WriteU32LE(data, 0, moduleParamsAddr)

	byteio.WriteU32LE(data, 4, ramAddr+28)  // autoload_list_start
	byteio.WriteU32LE(data, 8, ramAddr+40)  // autoload_list_end
	byteio.WriteU32LE(data, 12, ramAddr+28) // autoload_start
	byteio.WriteU32LE(data, 16, 0)          // static_bss_start
	byteio.WriteU32LE(data, 20, 0)          // static_bss_end
	byteio.WriteU32LE(data, 24, 0)          // compressed_static_end (uncompressed)

	byteio.WriteU32LE(data, 28, ramAddr+100) // entry address
	byteio.WriteU32LE(data, 32, 4)            // entry size
	byteio.WriteU32LE(data, 36, 0)            // bss size

	autoloadHookOff = ramAddr + 4 // hook instruction lives at file offset 0, value = ramAddr+0+4
	return data, autoloadHookOff
}

func TestLoadArmResolvesModuleParamsAndAutoload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arm9.bin")
	data, hookOff := buildArmBinary()
	test.Equate(t, os.WriteFile(path, data, 0o644), nil)

	bin, err := romio.LoadArm(path, ramAddr+100, ramAddr, hookOff, romio.BackupDir{}, nil)
	test.Equate(t, err, nil)
	test.Equate(t, bin.Params.AutoloadListStart, ramAddr+28)
	test.Equate(t, bin.Params.AutoloadStart, ramAddr+28)
	test.Equate(t, len(bin.Autoload), 1)
	test.Equate(t, bin.Autoload[0].Address, ramAddr+100)
	test.Equate(t, bin.Autoload[0].Size, uint32(4))
}

func TestLoadArmRejectsUndersizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.bin")
	test.Equate(t, os.WriteFile(path, []byte{1, 2}, 0o644), nil)

	_, err := romio.LoadArm(path, 0, 0, 0, romio.BackupDir{}, nil)
	test.ExpectFailure(t, err == nil)
}

func TestBackupIsUsedOnSecondLoad(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backup")
	path := filepath.Join(dir, "arm9.bin")
	data, hookOff := buildArmBinary()
	test.Equate(t, os.WriteFile(path, data, 0o644), nil)

	backup := romio.BackupDir{Path: backupDir}

	_, err := romio.LoadArm(path, ramAddr+100, ramAddr, hookOff, backup, nil)
	test.Equate(t, err, nil)

	// mutate the "live" file to simulate a previous patch run
	mutated := make([]byte, len(data))
	copy(mutated, data)
	mutated[0] = 0xff
	test.Equate(t, os.WriteFile(path, mutated, 0o644), nil)

	bin, err := romio.LoadArm(path, ramAddr+100, ramAddr, hookOff, backup, nil)
	test.Equate(t, err, nil)
	test.Equate(t, bin.Data[0], data[0])
}

func TestOverlayTableRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ovt.bin")

	raw := make([]byte, 64)
	byteio.WriteU32LE(raw, 0, 0)               // overlay_id
	byteio.WriteU32LE(raw, 4, 0x02100000)      // ram_address
	byteio.WriteU32LE(raw, 8, 0x1000)          // ram_size
	byteio.WriteU32LE(raw, 12, 0x200)          // bss_size
	byteio.WriteU32LE(raw, 16, 0)              // sinit_start
	byteio.WriteU32LE(raw, 20, 0)              // sinit_end
	byteio.WriteU32LE(raw, 24, 0)              // file_id
	byteio.WriteU32LE(raw, 28, 0x1000)         // compressed_size:flag=0

	byteio.WriteU32LE(raw, 32, 1)              // overlay_id
	byteio.WriteU32LE(raw, 36, 0x02200000)     // ram_address
	byteio.WriteU32LE(raw, 40, 0x2000)         // ram_size
	byteio.WriteU32LE(raw, 44, 0x100)          // bss_size
	byteio.WriteU32LE(raw, 48, 0)              // sinit_start
	byteio.WriteU32LE(raw, 52, 0)              // sinit_end
	byteio.WriteU32LE(raw, 56, 1)              // file_id
	byteio.WriteU32LE(raw, 60, 0x2000)         // compressed_size:flag=0
	test.Equate(t, os.WriteFile(path, raw, 0o644), nil)

	entries, loadedRaw, err := romio.LoadOverlayTable(path, romio.BackupDir{})
	test.Equate(t, err, nil)
	test.Equate(t, len(entries), 2)
	test.Equate(t, entries[0].RamAddress, uint32(0x02100000))

	entries[1].SetSizeFlag(entries[1].Size(), 1)
	out := filepath.Join(dir, "ovt_out.bin")
	test.Equate(t, romio.SaveOverlayTable(entries, loadedRaw, out), nil)

	reread, _, err := romio.LoadOverlayTable(out, romio.BackupDir{})
	test.Equate(t, err, nil)
	test.Equate(t, reread[1].Flag(), uint8(1))
}
