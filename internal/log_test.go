// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAlsoToFile(t *testing.T) {
	fileName := filepath.Join(t.TempDir(), "run.log")
	if err := LogAlsoToFile(fileName); err != nil {
		t.Fatal(err)
	}
	LogPrintf("%d: Loaded %s\n", 3, "frame.fits")
	LogPrintln("done")
	LogSync()
	logClose()

	b, err := os.ReadFile(fileName)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(b); !strings.HasPrefix(got, "3: Loaded frame.fits\n") || !strings.HasSuffix(got, "done\n") {
		t.Errorf("log file got %q", got)
	}
	if err := LogAlsoToFile(filepath.Join(t.TempDir(), "missing", "run.log")); err == nil {
		t.Errorf("expected error for missing directory")
	}
}
