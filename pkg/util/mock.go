package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// MockWriteAPI stands in for an influx write API when no database is configured.
// It keeps the points it was handed so tests can look at them.
type MockWriteAPI struct {
	mu     sync.Mutex
	points []*write.Point
}

func (m *MockWriteAPI) WriteRecord(line string) {}

func (m *MockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	m.points = append(m.points, point)
	m.mu.Unlock()
}

// Points returns the points written so far whose measurement matches name.
// An empty name matches everything.
func (m *MockWriteAPI) Points(name string) []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*write.Point, 0, len(m.points))
	for _, p := range m.points {
		if name == "" || p.Name() == name {
			ret = append(ret, p)
		}
	}
	return ret
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

func (m *MockWriteAPI) Errors() <-chan error { return nil }
