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


package rest

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/mat"

	"github.com/mlnoga/nightfit/internal/config"
	"github.com/mlnoga/nightfit/internal/imaging"
)

func init() { gin.SetMode(gin.TestMode) }

// Changes into a temporary directory holding a small target, since the API only accepts relative paths
func chdirWithTarget(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	data := mat.NewDense(12, 16, nil)
	data.Apply(func(r, c int, _ float64) float64 { return 5 + float64((r*7+c*3)%5) }, data)
	target, err := imaging.NewTarget(data, 1, [2]float64{0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if err := target.Save("frame.fits"); err != nil {
		t.Fatal(err)
	}
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w := httptest.NewRecorder()
	NewRouter(config.DefaultConfig()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("ping got %d %s", w.Code, w.Body.String())
	}
}

func TestStats(t *testing.T) {
	chdirWithTarget(t)
	w := post(NewRouter(config.DefaultConfig()), "/api/v1/stats", `{"filePatterns":["*.fits"]}`)
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, "Found 1 files") || !strings.HasSuffix(body, "done\n") {
		t.Errorf("stats got %d:\n%s", w.Code, body)
	}
}

func TestStatsRejectsBadRequest(t *testing.T) {
	w := post(NewRouter(config.DefaultConfig()), "/api/v1/stats", `{"filePatterns":`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("code got %d", w.Code)
	}
}

func TestRun(t *testing.T) {
	chdirWithTarget(t)
	r := NewRouter(config.DefaultConfig())

	w := post(r, "/api/v1/run", `{"type":"seq","active":true,"steps":[
		{"type":"load","active":true,"id":3,"fileName":"frame.fits"},
		{"type":"reduce","active":true,"factor":2},
		{"type":"save","active":true,"filePattern":"small%d.fits","content":"target"}]}`)
	if !strings.Contains(w.Body.String(), "done") {
		t.Fatalf("run got:\n%s", w.Body.String())
	}
	small, err := imaging.LoadImage("small3.fits")
	if err != nil {
		t.Fatal(err)
	}
	if rows, cols := small.Data.Dims(); rows != 6 || cols != 8 {
		t.Errorf("reduced dims got %dx%d", rows, cols)
	}

	w = post(r, "/api/v1/run", `{"type":"load","active":true,"fileName":"/etc/passwd"}`)
	if !strings.Contains(w.Body.String(), "error: ") {
		t.Errorf("absolute path got:\n%s", w.Body.String())
	}
	if w = post(r, "/api/v1/run", `{"type":"stack"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown operator got %d", w.Code)
	}
}
