package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(messagesTotal.WithLabelValues("MKDIR", "written"))
	RecordMessage("MKDIR", "written", 10*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(messagesTotal.WithLabelValues("MKDIR", "written")))

	RecordMappingRefresh(nil, 12)
	assert.Equal(t, float64(12), testutil.ToFloat64(mappingEntries))

	errBefore := testutil.ToFloat64(indexOps.WithLabelValues("add_dirs", "error"))
	RecordIndexOp("add_dirs", errors.New("down"))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(indexOps.WithLabelValues("add_dirs", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	RecordDecodeFailure()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dirindex_decode_failures_total")
}
