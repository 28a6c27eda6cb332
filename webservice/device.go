package webservice

import (
	"time"

	"adbcast/adb"
)

// DeviceInfo is a device as listed by the console, with its mirroring
// session if one runs.
type DeviceInfo struct {
	adb.Device
	Streaming bool   `json:"streaming"`
	SessionID string `json:"session_id,omitempty"`
}

// FileInfo is one entry of a device directory listing.
type FileInfo struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Mode    uint32    `json:"mode"`
	Size    uint32    `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

func fileInfo(e adb.DirEntry) FileInfo {
	return FileInfo{
		Name:    e.Name,
		Path:    e.Path,
		Mode:    e.Mode,
		Size:    e.Size,
		ModTime: e.ModTime,
		IsDir:   e.IsDir(),
	}
}
