package webservice

import (
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"
)

const defaultBrowsePath = "/sdcard"

// GET /api/devices
func (wm *WebMaster) handleListDevices(c *gin.Context) {
	devices, err := wm.adb.Devices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := DeviceInfo{Device: d}
		if s, ok := wm.registry.Session(d.Serial); ok {
			info.Streaming = true
			info.SessionID = s.ID()
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, out)
}

// GET /api/devices/:device/files?path=
func (wm *WebMaster) handleListFiles(c *gin.Context) {
	device := deviceParam(c)
	dir := c.DefaultQuery("path", defaultBrowsePath)

	sc, err := wm.adb.OpenSync(c.Request.Context(), device)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer sc.Close()
	defer sc.Watch(c.Request.Context())()

	files := []FileInfo{}
	for e, err := range sc.List(dir) {
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		files = append(files, fileInfo(e))
	}
	c.JSON(http.StatusOK, gin.H{"path": dir, "files": files})
}

// GET /api/devices/:device/file?path=
func (wm *WebMaster) handlePullFile(c *gin.Context) {
	device := deviceParam(c)
	remote := c.Query("path")
	if remote == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}

	sc, err := wm.adb.OpenSync(c.Request.Context(), device)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer sc.Close()
	defer sc.Watch(c.Request.Context())()

	fi, err := sc.Stat(remote)
	switch {
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	case !fi.Exists():
		c.JSON(http.StatusNotFound, gin.H{"error": "no such file: " + remote})
		return
	case fi.IsDir():
		c.JSON(http.StatusBadRequest, gin.H{"error": remote + " is a directory"})
		return
	}

	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Disposition", `attachment; filename="`+path.Base(remote)+`"`)
	c.Header("Content-Length", strconv.FormatUint(uint64(fi.Size), 10))
	c.Status(http.StatusOK)
	if _, err := sc.Pull(remote, c.Writer); err != nil {
		// Headers are gone; all that is left is to cut the body short.
		wm.logger.Warn().Err(err).Str("device", device).Str("path", remote).Msg("pull failed")
		c.Abort()
	}
}

// GET /api/recordings
func (wm *WebMaster) handleListRecordings(c *gin.Context) {
	if wm.recordings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "recording is disabled"})
		return
	}
	recs, err := wm.recordings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}
