package message

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
)

// newFakeChannelServer stands up a minimal channel-gateway double that
// accepts any send-message call and reports it accepted.
func newFakeChannelServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/send-message", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]string{"msgId": "ch-msg-1", "status": "accepted"},
		})
	})
	return httptest.NewServer(mux)
}
