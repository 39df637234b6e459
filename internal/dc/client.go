package dc

import (
	"encoding/base64"
)

// Task is a completed torrent as reported by the source client.
type Task struct {
	ID          string
	Name        string
	SavePath    string
	TorrentFile string
	Peers       int
}

// HasActivePeers reports whether content is still being exchanged with peers.
func (t *Task) HasActivePeers() bool {
	return t.Peers > 0
}

// Descriptor is the raw .torrent metainfo for a task.
type Descriptor struct {
	TaskID string
	Raw    []byte
}

// Base64 returns the descriptor encoded for RPC transport.
func (d *Descriptor) Base64() string {
	return base64.StdEncoding.EncodeToString(d.Raw)
}

// Size returns the descriptor length in bytes.
func (d *Descriptor) Size() int {
	return len(d.Raw)
}
