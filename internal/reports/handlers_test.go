package reports

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pitmetrics/internal/catalog"
)

type recordingInvalidator struct {
	instruments []string
}

func (r *recordingInvalidator) InvalidateInstrument(instrument string) (int64, error) {
	r.instruments = append(r.instruments, instrument)
	return 1, nil
}

func newTestRouter(t *testing.T, cat *catalog.Catalog) (*chi.Mux, *Repository, *recordingInvalidator) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	repo := NewRepository(setupTestDB(t), log)
	inv := &recordingInvalidator{}

	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		NewHandler(repo, cat, inv, log).RegisterRoutes(r)
	})
	return router, repo, inv
}

func do(router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleImport(t *testing.T) {
	router, repo, inv := newTestRouter(t, nil)

	body := `{"reports": [
		{"instrument": "AAPL", "field": "net_profit", "period": "2017Q4", "value": 80, "published_at": "2018-02-14T00:00:00Z"},
		{"instrument": "AAPL", "field": "net_profit", "period": 201801, "value": 15},
		{"instrument": "AAPL", "field": "total_assets", "period": "2017-q4", "value": null}
	]}`
	w := do(router, http.MethodPost, "/api/reports", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			Stored int `json:"stored"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Stored)
	assert.Equal(t, []string{"AAPL"}, inv.instruments)

	fields, err := repo.Fields(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"net_profit", "total_assets"}, fields)
}

func TestHandleImport_BadRequests(t *testing.T) {
	cat, err := catalog.New([]catalog.Field{{Name: "net_profit", Kind: catalog.KindFlow}})
	require.NoError(t, err)
	router, _, inv := newTestRouter(t, cat)

	testCases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"reports": [`},
		{"empty", `{"reports": []}`},
		{"bad period", `{"reports": [{"instrument": "A", "field": "net_profit", "period": "2017Q5"}]}`},
		{"missing instrument", `{"reports": [{"field": "net_profit", "period": 201701}]}`},
		{"unknown field", `{"reports": [{"instrument": "A", "field": "ebitda", "period": 201701}]}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/api/reports", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Empty(t, inv.instruments)
}

func TestHandleGetSeries(t *testing.T) {
	router, repo, _ := newTestRouter(t, nil)
	seed(t, repo)

	w := do(router, http.MethodGet, "/api/reports/AAPL/net_profit?as_of=2017-10-01&limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			Points []struct {
				Period int      `json:"period"`
				Value  *float64 `json:"value"`
			} `json:"points"`
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Data.Count)
	assert.Equal(t, 201701, resp.Data.Points[0].Period)
	assert.Equal(t, 201702, resp.Data.Points[1].Period)
	require.NotNil(t, resp.Data.Points[1].Value)
	assert.Equal(t, 30.0, *resp.Data.Points[1].Value)

	w = do(router, http.MethodGet, "/api/reports/AAPL/net_profit?as_of=garbage", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetInstrument(t *testing.T) {
	router, repo, _ := newTestRouter(t, nil)
	seed(t, repo)

	w := do(router, http.MethodGet, "/api/reports/MSFT", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fields":["net_profit"]`)

	w = do(router, http.MethodGet, "/api/reports/NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListInstruments(t *testing.T) {
	router, repo, _ := newTestRouter(t, nil)

	w := do(router, http.MethodGet, "/api/reports", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"instruments":[]`)

	seed(t, repo)
	w = do(router, http.MethodGet, "/api/reports", "")
	assert.Contains(t, w.Body.String(), `"instruments":["AAPL","MSFT"]`)
}
