package handler

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labdevice-service/internal/model"
	"labdevice-service/internal/service"
	"labdevice-service/internal/testutil"
)

type operationPage struct {
	Operations []model.DeviceOperation   `json:"operations"`
	Pagination service.PaginationResult `json:"pagination"`
}

func TestListAndGetOperations(t *testing.T) {
	s := newTestServer(t, map[string]*testutil.ProScanSim{scopePort: testutil.NewProScanSim(true)})

	for _, body := range []string{`{"axes":{"x":10}}`, `{"axes":{"x":20}}`, `{"axes":{"q":1}}`} {
		s.do(t, http.MethodPost, stagePath+"/move-by", body)
	}

	w := s.do(t, http.MethodGet, "/api/v1/operations?operation_type=MOVE_BY&per_page=2", "")
	require.Equal(t, http.StatusOK, statusOf(t, w))
	page := decode[operationPage](t, w).Data
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)
	require.Len(t, page.Operations, 2)

	w = s.do(t, http.MethodGet, "/api/v1/operations?status=FAILED&controller=scope&device=stage", "")
	require.Equal(t, http.StatusOK, statusOf(t, w))
	page = decode[operationPage](t, w).Data
	require.Len(t, page.Operations, 1)
	failed := page.Operations[0]
	require.NotNil(t, failed.ErrorMessage)

	w = s.do(t, http.MethodGet, "/api/v1/operations/"+failed.ID.String(), "")
	require.Equal(t, http.StatusOK, statusOf(t, w))
	assert.Equal(t, model.OperationStatusFailed, decode[model.DeviceOperation](t, w).Data.Status)

	w = s.do(t, http.MethodGet, "/api/v1/operations/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/operations/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/operations?page=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiscoveryScan(t *testing.T) {
	s := newTestServer(t, map[string]*testutil.ProScanSim{scopePort: testutil.NewProScanSim(true)})

	type scanResult struct {
		ControllersFound int                          `json:"controllers_found"`
		Controllers      []model.DiscoveredController `json:"controllers"`
	}

	w := s.do(t, http.MethodPost, "/api/v1/discovery/scan", "")
	require.Equal(t, http.StatusOK, statusOf(t, w))
	result := decode[scanResult](t, w).Data
	assert.Equal(t, 1, result.ControllersFound)
	assert.True(t, result.Controllers[0].InUse)

	w = s.do(t, http.MethodPost, "/api/v1/discovery/scan", `{"scan_type":"bluetooth"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/discovery/results", "")
	require.Equal(t, http.StatusOK, statusOf(t, w))
	last := decode[struct {
		Controllers []model.DiscoveredController `json:"controllers"`
		Scanners    []string                     `json:"scanners"`
	}](t, w).Data
	assert.Len(t, last.Controllers, 1)
	assert.Equal(t, []string{"serial"}, last.Scanners)

	probeType := string(model.OperationTypeDiscoveryProbe)
	w = s.do(t, http.MethodGet, "/api/v1/operations?operation_type="+probeType, "")
	assert.Equal(t, 2, decode[operationPage](t, w).Data.Pagination.Total)
}
