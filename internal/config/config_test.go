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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jetsetilly/ncpatcher/internal/config"
	"github.com/jetsetilly/ncpatcher/internal/curated"
	"github.com/jetsetilly/ncpatcher/internal/test"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ncpatcher.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, `{
		"backup": "backup",
		"filesystem": "rom",
		"toolchain": "arm-none-eabi-",
		"arm9": {"target": "arm9.bin", "build": "build/arm9"}
	}`)

	cfg, err := config.Load(path)
	test.Equate(t, err, nil)
	test.Equate(t, cfg.Backup, "backup")
	test.ExpectSuccess(t, cfg.Arm9 != nil)
	test.Equate(t, cfg.Arm9.Target, "arm9.bin")
}

func TestLoadNoTargetsIsFatal(t *testing.T) {
	path := writeConfig(t, `{"backup": "backup", "filesystem": "rom", "toolchain": "x"}`)
	_, err := config.Load(path)
	test.ExpectSuccess(t, curated.Is(err, curated.InvalidConfiguration))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load("/does/not/exist.json")
	test.ExpectSuccess(t, curated.Is(err, curated.FileNotFound))
}

func TestExpandLocalVar(t *testing.T) {
	out, err := config.Expand("${root}/arm9.bin", map[string]string{"root": "build"})
	test.Equate(t, err, nil)
	test.Equate(t, out, "build/arm9.bin")
}

func TestExpandEnvVar(t *testing.T) {
	os.Setenv("NCPATCHER_TEST_VAR", "value")
	defer os.Unsetenv("NCPATCHER_TEST_VAR")

	out, err := config.Expand("${env:NCPATCHER_TEST_VAR}", nil)
	test.Equate(t, err, nil)
	test.Equate(t, out, "value")
}

func TestExpandUnknownVarIsFatal(t *testing.T) {
	_, err := config.Expand("${missing}", map[string]string{})
	test.ExpectSuccess(t, curated.Is(err, curated.InvalidConfiguration))
}
