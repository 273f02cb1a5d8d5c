package stations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPClient(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"resultado":[{"Id":1,"Nome":"A"}]}`))
	}))
	defer srv.Close()

	tests := map[string]struct {
		skipVerify bool
		want       []StationRef
	}{
		"self-signed rejected by default": {},
		"self-signed accepted when skipping verification": {
			skipVerify: true,
			want:       []StationRef{{ID: "1", Name: "A"}},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			hc := NewHTTPClient(5*time.Second, tc.skipVerify)
			assert.Equal(t, 5*time.Second, hc.Timeout)

			got := NewClient(hc).FetchDirectory(context.Background(), srv.URL)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}
