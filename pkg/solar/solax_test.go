package solar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolax(t *testing.T) {
	t.Run("GetSnapshot", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/proxyApp/proxy/api/getRealtimeInfo.do" {
				assert.Equal(t, "tok123", r.URL.Query().Get("tokenId"))
				assert.Equal(t, "SN456", r.URL.Query().Get("sn"))
				json.NewEncoder(w).Encode(map[string]interface{}{
					"success": true,
					"result": map[string]interface{}{
						"acpower":        3000.0,
						"yieldtoday":     12.5,
						"feedinpower":    1800.0,
						"soc":            85.0,
						"batPower":       -500.0,
						"powerdc1":       2100.0,
						"powerdc2":       1900.0,
						"consumeenergy":  1234.5,
						"inverterStatus": "102",
					},
				})
				return
			}
			http.Error(w, "not found", 404)
		}))
		defer ts.Close()

		s := &Solax{
			client:   ts.Client(),
			baseURL:  ts.URL,
			tokenID:  "tok123",
			dongleSN: "SN456",
		}

		snap, err := s.GetSnapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4000.0, snap.SolarW, "solar is the sum of the DC inputs")
		assert.Equal(t, 1800.0, snap.GridExportW)
		assert.Equal(t, 0.0, snap.GridImportW)
		assert.Equal(t, 1200.0, snap.HouseholdW)
		assert.Equal(t, 1234.5, snap.GridImportMeterKWH)
		assert.Equal(t, "Normal", snap.InverterStatus)
	})

	t.Run("NegativeFeedinIsImport", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"result": map[string]interface{}{
					"acpower":        500.0,
					"feedinpower":    -2200.0,
					"inverterStatus": "110",
				},
			})
		}))
		defer ts.Close()

		s := &Solax{client: ts.Client(), baseURL: ts.URL, tokenID: "t", dongleSN: "s"}
		snap, err := s.GetSnapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2200.0, snap.GridImportW)
		assert.Equal(t, 0.0, snap.GridExportW)
		assert.Equal(t, 2700.0, snap.HouseholdW)
		assert.Equal(t, "Standby", snap.InverterStatus)
	})

	t.Run("APIError", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success":   false,
				"exception": "Query success, but no records found!",
			})
		}))
		defer ts.Close()

		s := &Solax{client: ts.Client(), baseURL: ts.URL, tokenID: "t", dongleSN: "s"}
		_, err := s.GetSnapshot(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no records found")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		s := &Solax{client: http.DefaultClient, baseURL: "http://localhost"}
		_, err := s.GetSnapshot(context.Background())
		require.Error(t, err)
	})

	t.Run("UnknownStatusPassedThrough", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"success": true,
				"result":  map[string]interface{}{"inverterStatus": "137"},
			})
		}))
		defer ts.Close()

		s := &Solax{client: ts.Client(), baseURL: ts.URL, tokenID: "t", dongleSN: "s"}
		snap, err := s.GetSnapshot(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "137", snap.InverterStatus)
	})
}
