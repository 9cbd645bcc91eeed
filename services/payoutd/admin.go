package payoutd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AdminHandler exposes operator controls for the processor.
func AdminHandler(processor *Processor) http.Handler {
	r := chi.NewRouter()
	r.Post("/pause", func(w http.ResponseWriter, _ *http.Request) {
		processor.Pause()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/resume", func(w http.ResponseWriter, _ *http.Request) {
		processor.Resume()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, processor.Status())
	})
	r.Get("/receipts", func(w http.ResponseWriter, _ *http.Request) {
		receipts, err := processor.Receipts()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if receipts == nil {
			receipts = []Receipt{}
		}
		writeJSON(w, receipts)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
