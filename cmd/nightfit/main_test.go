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


package main

import (
	"testing"
)

func TestParseProfiles(t *testing.T) {
	specs, err := parseProfiles("sky:sky, sersic:galaxy,gaussian")
	if err != nil {
		t.Fatal(err)
	}
	if len(specs) != 3 || specs[1].Kind != "sersic" || specs[1].Name != "galaxy" || specs[2].Name != "gaussian" {
		t.Errorf("specs got %+v", specs)
	}
	if _, err := parseProfiles(":x"); err == nil {
		t.Errorf("expected error for empty kind")
	}
}

func TestParseInts(t *testing.T) {
	v, err := parseInts("2, 4")
	if err != nil || len(v) != 2 || v[1] != 4 {
		t.Errorf("got %v %v", v, err)
	}
	if v, err := parseInts(""); v != nil || err != nil {
		t.Errorf("empty got %v %v", v, err)
	}
	if _, err := parseInts("2,x"); err == nil {
		t.Errorf("expected error")
	}
}

func TestAutoName(t *testing.T) {
	for _, tc := range []struct{ pattern, suffix, want string }{
		{"out%d.fits", ".jpg", "out%d.jpg"},
		{"out%d.fits", ".log", "out.log"},
		{"", ".log", ""},
	} {
		if got := autoName(tc.pattern, tc.suffix); got != tc.want {
			t.Errorf("autoName(%q,%q) got %q want %q", tc.pattern, tc.suffix, got, tc.want)
		}
	}
}

func TestPipelineNeedsFlags(t *testing.T) {
	if _, err := pipeline("crop", []string{"a.fits"}); err == nil {
		t.Errorf("crop without pixels accepted")
	}
	if _, err := pipeline("stats", nil); err == nil {
		t.Errorf("stats without files accepted")
	}
	if _, err := pipeline("fit", []string{"a.fits"}); err != nil {
		t.Errorf("fit pipeline: %v", err)
	}
}
