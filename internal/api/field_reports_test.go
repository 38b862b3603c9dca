package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burningmantech/ranger-ims-server-sub000/internal/ims"
)

func decodeFieldReports(t *testing.T, data []byte) []ims.FieldReportJSON {
	t.Helper()

	var reports []ims.FieldReportJSON

	require.NoError(t, json.Unmarshal(data, &reports))

	return reports
}

func TestCreateFieldReport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)
	seedIncidentEvent(t, ts, "2025")

	token := ts.login(t, reporterHandle)

	t.Run("ReporterCreates", func(t *testing.T) {
		body := []byte(`{"summary": "Flat tire at 3:00 plaza"}`)
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", token, body)

		require.Equal(t, http.StatusNoContent, rr.Code, "Response: %s", rr.Body.String())
		assert.Equal(t, "1", rr.Header().Get("Field-Report-Number"))
		assert.Equal(t, "/ims/api/events/2025/field_reports/1", rr.Header().Get("Location"))

		get := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/1", token, nil)
		require.Equal(t, http.StatusOK, get.Code)

		var report ims.FieldReportJSON

		require.NoError(t, json.Unmarshal(get.Body.Bytes(), &report))
		assert.Equal(t, "Flat tire at 3:00 plaza", report.Summary)
		assert.Nil(t, report.Incident, "reports are born unattached")

		// The initial summary journals as an automatic entry.
		require.NotEmpty(t, report.ReportEntries)
		assert.Equal(t, "Changed summary to: Flat tire at 3:00 plaza", report.ReportEntries[0].Text)
		assert.True(t, report.ReportEntries[0].SystemEntry)
	})

	t.Run("ReaderCannotCreate", func(t *testing.T) {
		reader := ts.login(t, readerHandle)
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", reader, []byte(`{}`))

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("ClientNumberRejected", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", token, []byte(`{"number": 5}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestFieldReportAttachment(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)
	seedIncidentEvent(t, ts, "2025")

	writer := ts.login(t, writerHandle)
	reporter := ts.login(t, reporterHandle)

	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/incidents/", writer, []byte(`{}`)).Code)
	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", reporter,
			[]byte(`{"summary": "Observed from tower"}`)).Code)

	t.Run("AttachSucceeds", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/1?action=attach&incident=1", writer, nil)

		require.Equal(t, http.StatusNoContent, rr.Code, "Response: %s", rr.Body.String())

		get := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/1", writer, nil)
		require.Equal(t, http.StatusOK, get.Code)

		var report ims.FieldReportJSON

		require.NoError(t, json.Unmarshal(get.Body.Bytes(), &report))
		require.NotNil(t, report.Incident)
		assert.Equal(t, 1, *report.Incident)

		last := report.ReportEntries[len(report.ReportEntries)-1]
		assert.Equal(t, "Changed incident to: 1", last.Text)
		assert.True(t, last.SystemEntry)
	})

	t.Run("ListFiltersByIncident", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/?incident=1", writer, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		reports := decodeFieldReports(t, rr.Body.Bytes())
		require.Len(t, reports, 1)
		assert.Equal(t, 1, reports[0].Number)

		empty := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/?incident=2", writer, nil)
		require.Equal(t, http.StatusOK, empty.Code)
		assert.Empty(t, decodeFieldReports(t, empty.Body.Bytes()))
	})

	t.Run("BadIncidentFilterRejected", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/?incident=abc", writer, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("WrongEventConflicts", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/1?action=attach&event=2024&incident=1", writer, nil)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("UnknownActionRejected", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/1?action=merge&incident=1", writer, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("AttachToMissingIncidentIs404", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/1?action=attach&incident=99", writer, nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("BodyCannotChangeAttachment", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/1", writer,
			[]byte(`{"incident": 2}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "action parameter")
	})

	t.Run("DetachSucceeds", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/1?action=detach", writer, nil)

		require.Equal(t, http.StatusNoContent, rr.Code)

		get := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/1", writer, nil)
		require.Equal(t, http.StatusOK, get.Code)

		var report ims.FieldReportJSON

		require.NoError(t, json.Unmarshal(get.Body.Bytes(), &report))
		assert.Nil(t, report.Incident)
	})
}

func TestFieldReportVisibility(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)
	seedIncidentEvent(t, ts, "2025")

	writer := ts.login(t, writerHandle)
	reader := ts.login(t, readerHandle)
	reporter := ts.login(t, reporterHandle)

	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/incidents/", writer, []byte(`{}`)).Code)
	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", reporter,
			[]byte(`{"summary": "Unattached"}`)).Code)
	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", reporter,
			[]byte(`{"summary": "Attached"}`)).Code)
	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost,
			"/ims/api/events/2025/field_reports/2?action=attach&incident=1", writer, nil).Code)

	t.Run("ReporterSeesAllReports", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/", reporter, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, decodeFieldReports(t, rr.Body.Bytes()), 2)
	})

	t.Run("IncidentReaderSeesOnlyAttached", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/", reader, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		reports := decodeFieldReports(t, rr.Body.Bytes())
		require.Len(t, reports, 1)
		assert.Equal(t, "Attached", reports[0].Summary)
	})

	t.Run("IncidentReaderReadsAttachedReport", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/2", reader, nil)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("IncidentReaderBlockedFromUnattached", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/1", reader, nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("OutsiderBlocked", func(t *testing.T) {
		outsider := ts.login(t, outsiderHandle)
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/", outsider, nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("AnonymousGets401", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestEditFieldReport(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)
	seedIncidentEvent(t, ts, "2025")

	token := ts.login(t, reporterHandle)

	require.Equal(t, http.StatusNoContent,
		ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/", token, []byte(`{}`)).Code)

	fetch := func(t *testing.T) ims.FieldReportJSON {
		t.Helper()

		rr := ts.request(t, http.MethodGet, "/ims/api/events/2025/field_reports/1", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var report ims.FieldReportJSON

		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))

		return report
	}

	t.Run("SummaryEditJournals", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/1", token,
			[]byte(`{"summary": "Generator failure"}`))
		require.Equal(t, http.StatusNoContent, rr.Code, "Response: %s", rr.Body.String())

		report := fetch(t)
		assert.Equal(t, "Generator failure", report.Summary)

		last := report.ReportEntries[len(report.ReportEntries)-1]
		assert.Equal(t, "Changed summary to: Generator failure", last.Text)
		assert.True(t, last.SystemEntry)
		assert.Equal(t, reporterHandle, last.Author)
	})

	t.Run("EntryAppendOverridesAuthor", func(t *testing.T) {
		before := len(fetch(t).ReportEntries)

		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/1", token,
			[]byte(`{"report_entries": [{"text": "Power restored", "author": "Mallory"}]}`))
		require.Equal(t, http.StatusNoContent, rr.Code)

		report := fetch(t)
		require.Len(t, report.ReportEntries, before+1)

		last := report.ReportEntries[len(report.ReportEntries)-1]
		assert.Equal(t, "Power restored", last.Text)
		assert.Equal(t, reporterHandle, last.Author)
		assert.False(t, last.SystemEntry)
	})

	t.Run("EmptyBodyIsNoOp", func(t *testing.T) {
		before := len(fetch(t).ReportEntries)

		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/1", token, nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		assert.Len(t, fetch(t).ReportEntries, before)
	})

	t.Run("NumberChangeRejected", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/1", token,
			[]byte(`{"number": 9}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("MissingReportIs404", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/field_reports/42", token,
			[]byte(`{"summary": "nope"}`))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
