// Package loadavg reports the host's load average to the runner's admission
// gate.
package loadavg

import (
	"fmt"

	"github.com/prometheus/procfs"
)

// Sensor reports the current one-minute load average of the host.
type Sensor interface {
	LoadAverage() (float64, error)
}

// ProcFS reads the load average from /proc/loadavg.
type ProcFS struct {
	fs procfs.FS
}

// NewProcFS returns a sensor backed by the default /proc mount.
func NewProcFS() (*ProcFS, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("loadavg: open procfs: %w", err)
	}
	return &ProcFS{fs: fs}, nil
}

// NewProcFSAt returns a sensor reading from a procfs mounted at mountPoint.
func NewProcFSAt(mountPoint string) (*ProcFS, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("loadavg: open procfs at %s: %w", mountPoint, err)
	}
	return &ProcFS{fs: fs}, nil
}

// LoadAverage returns the one-minute load average.
func (p *ProcFS) LoadAverage() (float64, error) {
	avg, err := p.fs.LoadAvg()
	if err != nil {
		return 0, fmt.Errorf("loadavg: read: %w", err)
	}
	return avg.Load1, nil
}

// Static is a Sensor that always reports the same load.
type Static float64

// LoadAverage implements Sensor.
func (s Static) LoadAverage() (float64, error) {
	return float64(s), nil
}

// Unavailable is used on hosts without a procfs. It always reports zero load,
// which keeps the admission gate open.
type Unavailable struct{}

// LoadAverage implements Sensor.
func (Unavailable) LoadAverage() (float64, error) {
	return 0, nil
}

// Default returns a procfs sensor when one can be opened, and Unavailable
// otherwise.
func Default() Sensor {
	s, err := NewProcFS()
	if err != nil {
		return Unavailable{}
	}
	return s
}
