package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidentTypesEndpoint(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ts := newTestServer(t)

	admin := ts.login(t, adminHandle)
	reader := ts.login(t, readerHandle)

	decode := func(t *testing.T, data []byte) []string {
		t.Helper()

		var names []string

		require.NoError(t, json.Unmarshal(data, &names))

		return names
	}

	t.Run("AdminAddsTypes", func(t *testing.T) {
		body := EditIncidentTypesRequest{Add: []string{"Medical", "Fire"}}
		rr := ts.request(t, http.MethodPost, "/ims/api/incident_types/", admin, body)

		require.Equal(t, http.StatusNoContent, rr.Code, "Response: %s", rr.Body.String())
	})

	t.Run("VisibleListForAnyAuthenticatedUser", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/incident_types/", reader, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		names := decode(t, rr.Body.Bytes())
		assert.Contains(t, names, "Medical")
		assert.Contains(t, names, "Fire")
		assert.NotContains(t, names, "Admin", "seeded hidden types stay out of the visible list")
	})

	t.Run("AnonymousBlocked", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/incident_types/", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("HiddenListRequiresAdmin", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/incident_types/?hidden=true", reader, nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("HiddenListIncludesEverything", func(t *testing.T) {
		rr := ts.request(t, http.MethodGet, "/ims/api/incident_types/?hidden=true", admin, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		names := decode(t, rr.Body.Bytes())
		assert.Contains(t, names, "Admin")
		assert.Contains(t, names, "Junk")
		assert.Contains(t, names, "Medical")
	})

	t.Run("HideRemovesFromVisibleList", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/incident_types/", admin,
			EditIncidentTypesRequest{Hide: []string{"Fire"}})
		require.Equal(t, http.StatusNoContent, rr.Code)

		visible := ts.request(t, http.MethodGet, "/ims/api/incident_types/", reader, nil)
		assert.NotContains(t, decode(t, visible.Body.Bytes()), "Fire")

		show := ts.request(t, http.MethodPost, "/ims/api/incident_types/", admin,
			EditIncidentTypesRequest{Show: []string{"Fire"}})
		require.Equal(t, http.StatusNoContent, show.Code)

		again := ts.request(t, http.MethodGet, "/ims/api/incident_types/", reader, nil)
		assert.Contains(t, decode(t, again.Body.Bytes()), "Fire")
	})

	t.Run("HiddenTypeStillAssignable", func(t *testing.T) {
		seedIncidentEvent(t, ts, "2025")

		hide := ts.request(t, http.MethodPost, "/ims/api/incident_types/", admin,
			EditIncidentTypesRequest{Hide: []string{"Medical"}})
		require.Equal(t, http.StatusNoContent, hide.Code)

		writer := ts.login(t, writerHandle)
		rr := ts.request(t, http.MethodPost, "/ims/api/events/2025/incidents/", writer,
			[]byte(`{"incident_types": ["Medical"]}`))

		assert.Equal(t, http.StatusNoContent, rr.Code, "hidden types remain valid on incidents")
	})

	t.Run("NonAdminCannotEdit", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/incident_types/", reader,
			EditIncidentTypesRequest{Add: []string{"Sneaky"}})

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("UnknownTypeHideRejected", func(t *testing.T) {
		rr := ts.request(t, http.MethodPost, "/ims/api/incident_types/", admin,
			EditIncidentTypesRequest{Hide: []string{"Never Heard Of It"}})

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
