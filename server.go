package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/whisper-darkly/sticky-watch/metrics"
	"github.com/whisper-darkly/sticky-watch/recorder"
	"github.com/whisper-darkly/sticky-watch/registry"
)

type channelStatus struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Key      string `json:"key,omitempty"`
	State    string `json:"state"`
	Polls    int64  `json:"polls"`
	Error    string `json:"error,omitempty"`
}

// newStatusRouter serves metrics and a read-only view of the recorder.
func newStatusRouter(reg *registry.Registry, sup *recorder.Supervisor, met *metrics.Metrics, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.RequestMiddleware(met))

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveRecordings(reg.Len()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/recordings", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, log, reg.Handles())
	})
	r.Get("/channels", func(w http.ResponseWriter, _ *http.Request) {
		fatal := map[string]string{}
		for _, f := range sup.Fatal() {
			fatal[f.Channel.Platform+"/"+f.Channel.ID] = f.Err.Error()
		}
		out := make([]channelStatus, 0, len(sup.Loops()))
		for _, l := range sup.Loops() {
			ch := l.Channel()
			out = append(out, channelStatus{
				Platform: ch.Platform,
				ID:       ch.ID,
				Key:      l.Key(),
				State:    l.State().String(),
				Polls:    l.Polls(),
				Error:    fatal[ch.Platform+"/"+ch.ID],
			})
		}
		writeJSON(w, log, out)
	})
	return r
}

func writeJSON(w http.ResponseWriter, log zerolog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("encode status response")
	}
}
