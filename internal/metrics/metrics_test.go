package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labdevice-service/internal/model"
	"labdevice-service/internal/protocol"
)

type stubSource struct {
	controllers []model.Controller
	stats       map[string]*protocol.TransportStats
}

func (s *stubSource) ListControllers() []model.Controller { return s.controllers }

func (s *stubSource) TransportStats(name string) (*protocol.TransportStats, error) {
	if stats, ok := s.stats[name]; ok {
		return stats, nil
	}
	return nil, errors.New("offline")
}

func operationEvent(eventType model.EventType, status model.OperationStatus, durationMs int) *model.DeviceEvent {
	return model.NewDeviceEvent(eventType, "scope", "stage", model.ToJSONObject(model.OperationEventData{
		OperationType: model.OperationTypeMoveBy,
		Status:        status,
		Duration:      &durationMs,
	}))
}

func TestObserveOperations(t *testing.T) {
	m := New(nil)

	m.Observe(model.NewDeviceEvent(model.EventOperationStarted, "scope", "stage", nil))
	m.Observe(operationEvent(model.EventOperationCompleted, model.OperationStatusSuccess, 120))
	m.Observe(operationEvent(model.EventOperationFailed, model.OperationStatusFailed, 30))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("OPERATION_STARTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("scope", "MOVE_BY", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("scope", "MOVE_BY", "FAILED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestRunStopsWhenChannelCloses(t *testing.T) {
	m := New(nil)
	events := make(chan *model.DeviceEvent, 2)
	events <- model.NewDeviceEvent(model.EventControllerConnected, "scope", "", nil)
	events <- model.NewDeviceEvent(model.EventControllerConnected, "dark", "", nil)
	close(events)

	m.Run(context.Background(), events)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("CONTROLLER_CONNECTED")))
}

func TestTransportCollector(t *testing.T) {
	source := &stubSource{
		controllers: []model.Controller{
			{Name: "scope", Status: model.ControllerStatusOnline},
			{Name: "dark", Status: model.ControllerStatusOffline},
		},
		stats: map[string]*protocol.TransportStats{
			"scope": {BytesWritten: 42, BytesRead: 7, IsOpen: true},
		},
	}
	collector := newTransportCollector(source)

	// online for both, four transport counters for the connected one
	assert.Equal(t, 6, testutil.CollectAndCount(collector))

	expected := `
# HELP labdevice_transport_bytes_written_total Bytes written to the controller transport
# TYPE labdevice_transport_bytes_written_total counter
labdevice_transport_bytes_written_total{controller="scope"} 42
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"labdevice_transport_bytes_written_total"))
}

func TestHandler(t *testing.T) {
	m := New(&stubSource{controllers: []model.Controller{{Name: "scope", Status: model.ControllerStatusOnline}}})
	m.Observe(model.NewDeviceEvent(model.EventDiscoveryCompleted, "", "", nil))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `labdevice_events_total{type="DISCOVERY_COMPLETED"} 1`)
	assert.Contains(t, body, `labdevice_controller_online{controller="scope"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
