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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/nightfit/internal/config"
	"github.com/mlnoga/nightfit/internal/ops"
)

// Serves the REST API on the given address, e.g. ":8080"
func Serve(addr string, cfg *config.Config) error {
	return NewRouter(cfg).Run(addr)
}

func NewRouter(cfg *config.Config) *gin.Engine {
	h := &handler{cfg: cfg}
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/stats", h.postStats)
			v1.POST("/fit", h.postFit)
			v1.POST("/run", h.postRun)
		}
	}
	return r
}

type handler struct {
	cfg *config.Config
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes concurrent log lines from parallel frames and flushes each to the client
type flushWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (fw *flushWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	n, err := fw.w.Write(p)
	fw.w.Flush()
	return n, err
}

// Switches the response to a streamed plain text log and runs the operator on it
func (h *handler) stream(c *gin.Context, args interface{}, op ops.Operator) {
	logWriter := &flushWriter{w: c.Writer}
	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, h.cfg)
	ctx.RestrictPaths = true
	if _, err := ops.Run(op, ctx); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "done\n")
}

type postStatsArgs struct {
	FilePatterns []string `json:"filePatterns" binding:"required"`
}

func (h *handler) postStats(c *gin.Context) {
	var args postStatsArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.stream(c, args, ops.NewOpSequence(
		ops.NewOpLoadMany(args.FilePatterns),
		ops.NewOpForEach(ops.NewOpStatsDefault()),
	))
}

type postFitArgs struct {
	FilePatterns    []string          `json:"filePatterns" binding:"required"`
	Profiles        []ops.ProfileSpec `json:"profiles"`
	MaxIterations   int               `json:"maxIterations"`
	ModelPattern    string            `json:"modelPattern"`
	ResidualPattern string            `json:"residualPattern"`
}

func (h *handler) postFit(c *gin.Context) {
	var args postFitArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.stream(c, args, ops.NewOpSequence(
		ops.NewOpLoadMany(args.FilePatterns),
		ops.NewOpForEach(ops.NewOpSequence(
			ops.NewOpFit(args.Profiles, args.MaxIterations),
			ops.NewOpSave(args.ModelPattern, ops.ContentModel),
			ops.NewOpSave(args.ResidualPattern, ops.ContentResidual),
		)),
	))
}

// Runs an arbitrary operator graph given as polymorphic JSON
func (h *handler) postRun(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op, err := ops.UnmarshalOperator(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.stream(c, op, op)
}
